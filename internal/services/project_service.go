package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	repoprojects "github.com/yungbote/layered-backend/internal/data/repos/projects"
	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/jobs/pipeline/generate_project"
	"github.com/yungbote/layered-backend/internal/platform/apierr"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const (
	DefaultListLimit = 6
	MaxListLimit     = 50
	entityProject    = "project"
)

type CreateProjectRequest struct {
	BlobID     string `json:"blobId"`
	LayerCount *int   `json:"layerCount"`
}

type ProjectDetail struct {
	Project    *projects.Project       `json:"project"`
	Prediction *projects.Prediction    `json:"prediction,omitempty"`
	InputBlob  *projects.BlobWithLink  `json:"input_blob,omitempty"`
	Outputs    []*projects.BlobWithLink `json:"outputs"`
	Job        *jobs.JobRun            `json:"job,omitempty"`
}

// Layer is one output as rendered to clients. BlobID is empty while the layer
// is only known from the raw inference output.
type Layer struct {
	Position    int    `json:"position"`
	URL         string `json:"url"`
	BlobID      string `json:"blob_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type ProjectService interface {
	Create(ctx context.Context, req CreateProjectRequest) (*ProjectDetail, error)
	Get(ctx context.Context, id string) (*ProjectDetail, error)
	List(ctx context.Context, limit int) ([]*projects.Project, error)
	Layers(ctx context.Context, predictionID string) ([]Layer, error)
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*projects.Project, error)
}

type ProjectServiceDeps struct {
	Ledger      domainagg.ProjectLedger
	Projects    repoprojects.ProjectRepo
	Predictions repoprojects.PredictionRepo
	Links       repoprojects.PredictionBlobRepo
	Jobs        JobService
	// PublicBaseURL is how the inference endpoint reaches our blobs.
	PublicBaseURL string
}

type projectService struct {
	log  *logger.Logger
	deps ProjectServiceDeps
	now  func() time.Time
}

func NewProjectService(baseLog *logger.Logger, deps ProjectServiceDeps) ProjectService {
	deps.PublicBaseURL = strings.TrimRight(deps.PublicBaseURL, "/")
	return &projectService{
		log:  baseLog.With("service", "ProjectService"),
		deps: deps,
		now:  time.Now,
	}
}

// BlobURL is the public address of a stored blob.
func BlobURL(baseURL, blobID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/blobs/" + blobID
}

func (s *projectService) Create(ctx context.Context, req CreateProjectRequest) (*ProjectDetail, error) {
	blobID := strings.TrimSpace(req.BlobID)
	if blobID == "" {
		return nil, apierr.BadRequest("invalid_blob_id", errors.New("blobId is required"))
	}
	layerCount, err := projects.NormalizeLayerCount(req.LayerCount)
	if err != nil {
		return nil, apierr.BadRequest("invalid_layer_count", err)
	}

	projectID := uuid.NewString()
	predictionID := uuid.NewString()
	input := projects.PredictionInput{
		ImageURL:  BlobURL(s.deps.PublicBaseURL, blobID),
		NumLayers: layerCount,
	}

	var job *jobs.JobRun
	res, err := s.deps.Ledger.CreateProject(ctx, domainagg.CreateProjectInput{
		ProjectID:    projectID,
		PredictionID: predictionID,
		InputBlobID:  blobID,
		EndpointID:   projects.EndpointImageLayered,
		Input:        input,
		AfterInsert: func(dbc dbctx.Context, _ domainagg.CreateProjectResult) error {
			var err error
			job, err = s.deps.Jobs.Enqueue(dbc, generate_project.JobType, entityProject, projectID, generate_project.Params{
				ProjectID:      projectID,
				PredictionID:   predictionID,
				SourceImageURL: input.ImageURL,
				LayerCount:     layerCount,
			})
			return err
		},
	})
	if err != nil {
		switch {
		case domainagg.IsCode(err, domainagg.CodePreconditionFailed):
			return nil, apierr.NotFound("blob_not_found", fmt.Errorf("blob %s not found", blobID))
		case domainagg.IsCode(err, domainagg.CodeValidation):
			return nil, apierr.BadRequest("invalid_request", err)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.log.Info("Project created", "project_id", projectID, "prediction_id", predictionID, "job_id", job.ID, "layer_count", layerCount)

	if err := s.deps.Jobs.Dispatch(ctx, job.ID); err != nil {
		return nil, apierr.New(503, "dispatch_failed", err)
	}

	return &ProjectDetail{
		Project:    &res.Project,
		Prediction: &res.Prediction,
		Outputs:    []*projects.BlobWithLink{},
		Job:        job,
	}, nil
}

func (s *projectService) Get(ctx context.Context, id string) (*ProjectDetail, error) {
	dbc := dbctx.From(ctx)
	project, err := s.deps.Projects.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apierr.NotFound("project_not_found", fmt.Errorf("project %s not found", id))
	}
	out := &ProjectDetail{Project: project, Outputs: []*projects.BlobWithLink{}}

	prediction, err := s.deps.Predictions.GetLatestByProject(dbc, id)
	if err != nil {
		return nil, err
	}
	if prediction != nil {
		out.Prediction = prediction
		inputs, err := s.deps.Links.ListBlobs(dbc, prediction.ID, projects.RoleInput)
		if err != nil {
			return nil, err
		}
		if len(inputs) > 0 {
			out.InputBlob = inputs[0]
		}
		// Outputs are only shown once the run has committed all of them.
		if project.Status == projects.StatusCompleted {
			outputs, err := s.deps.Links.ListBlobs(dbc, prediction.ID, projects.RoleOutput)
			if err != nil {
				return nil, err
			}
			out.Outputs = outputs
		}
	}

	if s.deps.Jobs != nil {
		job, err := s.deps.Jobs.GetLatestForEntity(dbc, entityProject, id, generate_project.JobType)
		if err != nil {
			s.log.Warn("Load job for project failed", "project_id", id, "error", err)
		}
		out.Job = job
	}
	return out, nil
}

func (s *projectService) List(ctx context.Context, limit int) ([]*projects.Project, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.deps.Projects.ListRecent(dbctx.From(ctx), limit)
}

func (s *projectService) Layers(ctx context.Context, predictionID string) ([]Layer, error) {
	dbc := dbctx.From(ctx)
	prediction, err := s.deps.Predictions.GetByID(dbc, predictionID)
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, apierr.NotFound("prediction_not_found", fmt.Errorf("prediction %s not found", predictionID))
	}
	blobs, err := s.deps.Links.ListBlobs(dbc, predictionID, projects.RoleOutput)
	if err != nil {
		return nil, err
	}
	layers := make([]Layer, 0, len(blobs))
	// While uploads are in flight this is a partial list; the output URLs are
	// used only before the first blob row lands.
	if len(blobs) > 0 {
		for _, b := range blobs {
			layers = append(layers, Layer{
				Position:    b.Position,
				URL:         BlobURL(s.deps.PublicBaseURL, b.ID),
				BlobID:      b.ID,
				ContentType: b.ContentType,
				Width:       b.Width,
				Height:      b.Height,
			})
		}
		return layers, nil
	}
	// Uploads have not landed yet; fall back to the inference CDN URLs.
	for i, u := range projects.OutputURLs(prediction.Output) {
		layers = append(layers, Layer{Position: i, URL: u})
	}
	return layers, nil
}

func (s *projectService) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*projects.Project, error) {
	if olderThan <= 0 {
		return nil, apierr.BadRequest("invalid_older_than", errors.New("older_than must be positive"))
	}
	return s.deps.Projects.ListStaleProcessing(dbctx.From(ctx), s.now().Add(-olderThan), limit)
}
