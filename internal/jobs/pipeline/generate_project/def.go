package generate_project

import (
	"context"
	"encoding/json"
	"time"

	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/jobs/orchestrator"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/platform/objectstore"
)

const JobType = "generate_project"

const (
	StepGenerateLayers          = "generate-layers"
	StepGenerateName            = "generate-name"
	StepPersistPredictionOutput = "persist-prediction-output"
	StepPersistProjectName      = "persist-project-name"
	StepUploadOutputPrefix      = "upload-output-"
	StepMarkCompleted           = "mark-completed"
	StepMarkFailed              = "mark-failed"
)

// LayerGenerator calls the image decomposition endpoint and returns its raw response.
type LayerGenerator interface {
	GenerateLayers(ctx context.Context, in projects.PredictionInput) (json.RawMessage, error)
}

// Captioner produces a short title for an image.
type Captioner interface {
	Caption(ctx context.Context, imageURL string) (string, error)
}

// AssetFetcher downloads a generated asset.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Params is the job payload.
type Params struct {
	ProjectID      string `json:"project_id"`
	PredictionID   string `json:"prediction_id"`
	SourceImageURL string `json:"source_image_url"`
	LayerCount     int    `json:"layer_count"`
}

// PhaseFunc is told about every phase the job enters, with a progress percentage.
type PhaseFunc func(ctx context.Context, phase Phase, pct int)

type Deps struct {
	Ledger      domainagg.ProjectLedger
	Store       objectstore.Store
	Inference   LayerGenerator
	Captioner   Captioner
	Fetcher     AssetFetcher
	Checkpoints orchestrator.CheckpointStore
	Log         *logger.Logger
}

type Config struct {
	Policy            orchestrator.RetryPolicy
	StepPolicies      map[string]orchestrator.RetryPolicy
	UploadConcurrency int
	Observer          orchestrator.Observer

	// Sleep overrides the retry backoff wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Engine struct {
	ledger      domainagg.ProjectLedger
	store       objectstore.Store
	inference   LayerGenerator
	captioner   Captioner
	fetcher     AssetFetcher
	checkpoints orchestrator.CheckpointStore
	log         *logger.Logger
	cfg         Config
}

func NewEngine(deps Deps, cfg Config) *Engine {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	return &Engine{
		ledger:      deps.Ledger,
		store:       deps.Store,
		inference:   deps.Inference,
		captioner:   deps.Captioner,
		fetcher:     deps.Fetcher,
		checkpoints: deps.Checkpoints,
		log:         log.With("job", JobType),
		cfg:         cfg,
	}
}
