package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	repoprojects "github.com/yungbote/layered-backend/internal/data/repos/projects"
	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

type ProjectLedgerDeps struct {
	Base        BaseDeps
	Projects    repoprojects.ProjectRepo
	Predictions repoprojects.PredictionRepo
	Blobs       repoprojects.BlobRepo
	Links       repoprojects.PredictionBlobRepo
}

type projectLedger struct {
	deps ProjectLedgerDeps
}

func NewProjectLedger(deps ProjectLedgerDeps) domainagg.ProjectLedger {
	deps.Base = deps.Base.withDefaults()
	deps.Base.Log = deps.Base.Log.With("aggregate", "ProjectLedger")
	return &projectLedger{deps: deps}
}

func (l *projectLedger) Contract() domainagg.Contract {
	return domainagg.ProjectLedgerContract
}

func (l *projectLedger) CreateProject(ctx context.Context, in domainagg.CreateProjectInput) (domainagg.CreateProjectResult, error) {
	const op = "project_ledger.create_project"
	var out domainagg.CreateProjectResult
	if strings.TrimSpace(in.ProjectID) == "" || strings.TrimSpace(in.PredictionID) == "" || strings.TrimSpace(in.InputBlobID) == "" {
		return out, MapError(op, ValidationError("project, prediction and input blob ids are required"))
	}
	if in.EndpointID == "" {
		in.EndpointID = projects.EndpointImageLayered
	}
	input, err := json.Marshal(in.Input)
	if err != nil {
		return out, MapError(op, ValidationError(fmt.Sprintf("encode prediction input: %v", err)))
	}

	err = executeWrite(ctx, l.deps.Base, op, func(dbc dbctx.Context) error {
		exists, err := l.deps.Blobs.Exists(dbc, in.InputBlobID)
		if err != nil {
			return err
		}
		if !exists {
			return domainagg.NewError(domainagg.CodePreconditionFailed, op, "input blob "+in.InputBlobID+" does not exist", nil)
		}
		project := projects.Project{
			ID:     in.ProjectID,
			Status: projects.StatusProcessing,
		}
		if err := l.deps.Projects.Create(dbc, &project); err != nil {
			return err
		}
		prediction := projects.Prediction{
			ID:         in.PredictionID,
			ProjectID:  &project.ID,
			EndpointID: in.EndpointID,
			Input:      datatypes.JSON(input),
			Output:     datatypes.JSON([]byte("{}")),
			Status:     projects.StatusProcessing,
		}
		if err := l.deps.Predictions.Create(dbc, &prediction); err != nil {
			return err
		}
		if err := l.deps.Links.Create(dbc, &projects.PredictionBlob{
			PredictionID: prediction.ID,
			BlobID:       in.InputBlobID,
			Role:         projects.RoleInput,
			Position:     0,
		}); err != nil {
			return err
		}
		out.Project = project
		out.Prediction = prediction
		if in.AfterInsert != nil {
			return in.AfterInsert(dbc, out)
		}
		return nil
	})
	return out, err
}

func (l *projectLedger) InsertOutputBlob(ctx context.Context, in domainagg.OutputBlobInput) error {
	const op = "project_ledger.insert_output_blob"
	if strings.TrimSpace(in.PredictionID) == "" || strings.TrimSpace(in.Blob.ID) == "" {
		return MapError(op, ValidationError("prediction id and blob id are required"))
	}
	if in.Position < 0 {
		return MapError(op, ValidationError("position must be >= 0"))
	}
	blob := in.Blob
	return executeWrite(ctx, l.deps.Base, op, func(dbc dbctx.Context) error {
		prediction, err := l.deps.Predictions.GetByID(dbc, in.PredictionID)
		if err != nil {
			return err
		}
		if prediction == nil {
			return domainagg.NewError(domainagg.CodePreconditionFailed, op, "prediction "+in.PredictionID+" does not exist", nil)
		}
		if err := l.deps.Blobs.Create(dbc, &blob); err != nil {
			return err
		}
		return l.deps.Links.Create(dbc, &projects.PredictionBlob{
			PredictionID: in.PredictionID,
			BlobID:       blob.ID,
			Role:         projects.RoleOutput,
			Position:     in.Position,
		})
	})
}

func (l *projectLedger) MarkTerminal(ctx context.Context, in domainagg.MarkTerminalInput) error {
	const op = "project_ledger.mark_terminal"
	if !in.Status.Terminal() {
		return MapError(op, ValidationError(fmt.Sprintf("status %q is not terminal", in.Status)))
	}
	if strings.TrimSpace(in.ProjectID) == "" || strings.TrimSpace(in.PredictionID) == "" {
		return MapError(op, ValidationError("project and prediction ids are required"))
	}
	target := string(in.Status)
	from := []string{string(projects.StatusProcessing)}
	updates := func() map[string]any {
		return map[string]any{"status": target, "updated_at": time.Now()}
	}
	return executeWrite(ctx, l.deps.Base, op, func(dbc dbctx.Context) error {
		guard := l.deps.Base.CASGuard
		if _, err := guard.UpdateByStatus(dbc, projects.Prediction{}.TableName(), in.PredictionID, from, updates()); err != nil {
			return err
		}
		if _, err := guard.UpdateByStatus(dbc, projects.Project{}.TableName(), in.ProjectID, from, updates()); err != nil {
			return err
		}
		// Both rows must now sit at the target. Anything else means one of them
		// already reached the other terminal status.
		for _, row := range []struct{ table, id string }{
			{projects.Prediction{}.TableName(), in.PredictionID},
			{projects.Project{}.TableName(), in.ProjectID},
		} {
			current, err := guard.CurrentStatus(dbc, row.table, row.id)
			if err != nil {
				return err
			}
			if err := RequireStatusAllowed(current, target); err != nil {
				return fmt.Errorf("%s %s: %w", row.table, row.id, err)
			}
		}
		return nil
	})
}

func (l *projectLedger) BlobExists(ctx context.Context, blobID string) (bool, error) {
	ok, err := l.deps.Blobs.Exists(dbctx.From(ctx), blobID)
	if err != nil {
		return false, MapError("project_ledger.blob_exists", err)
	}
	return ok, nil
}

func (l *projectLedger) SetPredictionOutput(ctx context.Context, predictionID string, output []byte) error {
	const op = "project_ledger.set_prediction_output"
	if !json.Valid(output) {
		return MapError(op, ValidationError("prediction output must be valid JSON"))
	}
	return MapError(op, l.deps.Predictions.SetOutput(dbctx.From(ctx), predictionID, output))
}

func (l *projectLedger) SetProjectName(ctx context.Context, projectID string, name string) error {
	const op = "project_ledger.set_project_name"
	name = strings.TrimSpace(name)
	if name == "" {
		return MapError(op, ValidationError("name is empty"))
	}
	return MapError(op, l.deps.Projects.SetName(dbctx.From(ctx), projectID, name))
}
