package aggregates

import (
	"context"

	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

var ProjectLedgerContract = Contract{
	Name:             "Projects.Ledger",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes: "Owns the multi-row writes of a project run: creation of project/prediction/input link, " +
		"blob+link insertion for outputs, and the paired project/prediction status flip.",
}

// ProjectLedger owns every write that must touch more than one row of a project run.
//
// Write failures return *aggregates.Error with codes:
// CodeValidation, CodeNotFound, CodeConflict, CodeRetryable, CodeInternal.
type ProjectLedger interface {
	Aggregate

	// CreateProject inserts the project, its placeholder prediction and the input link atomically.
	CreateProject(ctx context.Context, in CreateProjectInput) (CreateProjectResult, error)

	// InsertOutputBlob inserts an output blob row and its prediction link atomically.
	// The bytes must already be in the object store.
	InsertOutputBlob(ctx context.Context, in OutputBlobInput) error

	// MarkTerminal moves both the prediction and its project from processing to status.
	// Repeating the same terminal status is a no-op.
	MarkTerminal(ctx context.Context, in MarkTerminalInput) error

	BlobExists(ctx context.Context, blobID string) (bool, error)
	SetPredictionOutput(ctx context.Context, predictionID string, output []byte) error
	SetProjectName(ctx context.Context, projectID string, name string) error
}

type CreateProjectInput struct {
	ProjectID    string
	PredictionID string
	InputBlobID  string
	EndpointID   string
	Input        projects.PredictionInput
	// AfterInsert runs inside the creating transaction once all three rows exist.
	// An error rolls everything back.
	AfterInsert func(dbc dbctx.Context, res CreateProjectResult) error
}

type CreateProjectResult struct {
	Project    projects.Project
	Prediction projects.Prediction
}

type OutputBlobInput struct {
	PredictionID string
	Position     int
	Blob         projects.Blob
}

type MarkTerminalInput struct {
	ProjectID    string
	PredictionID string
	Status       projects.Status
}
