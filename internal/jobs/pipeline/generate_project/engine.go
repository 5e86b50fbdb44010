package generate_project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/jobs/orchestrator"
)

type layersResult struct {
	Raw    json.RawMessage        `json:"raw"`
	Images []projects.OutputImage `json:"images"`
}

// Run executes the job to completion or to a terminal failure. It is safe to call
// again with the same jobID after any interruption: finished steps are not repeated.
func (e *Engine) Run(ctx context.Context, jobID string, p Params) error {
	return e.RunWithProgress(ctx, jobID, p, nil)
}

func (e *Engine) RunWithProgress(ctx context.Context, jobID string, p Params, report PhaseFunc) error {
	if err := validateParams(jobID, p); err != nil {
		return orchestrator.Permanent(err)
	}
	log := e.log.With("job_id", jobID, "project_id", p.ProjectID, "prediction_id", p.PredictionID)
	run := &orchestrator.Run{
		JobID:        jobID,
		Store:        e.checkpoints,
		Policy:       e.cfg.Policy,
		StepPolicies: e.cfg.StepPolicies,
		Log:          log,
		Observer:     e.cfg.Observer,
		Sleep:        e.cfg.Sleep,
	}

	// A recorded terminal phase ends the job without touching anything else.
	if done, err := run.Has(ctx, StepMarkCompleted); err != nil || done {
		return err
	}
	if reason, failed, err := orchestrator.Load[string](ctx, run, StepMarkFailed); err != nil || failed {
		if err != nil {
			return err
		}
		return &orchestrator.FailedError{JobID: jobID, Reason: reason}
	}

	err := e.execute(ctx, run, p, newTracker(report))
	if err == nil {
		log.Info("project generation completed")
		return nil
	}
	if ctx.Err() != nil || !orchestrator.IsTerminal(err) {
		log.Warn("project generation interrupted; leaving it resumable", "error", err)
		return err
	}
	if cerr := e.compensate(ctx, run, p, err); cerr != nil {
		log.Error("compensation failed", "error", cerr, "cause", err)
		return errors.Join(err, cerr)
	}
	if report != nil {
		report(ctx, PhaseFailed, 100)
	}
	return err
}

func validateParams(jobID string, p Params) error {
	switch {
	case strings.TrimSpace(jobID) == "":
		return errors.New("job id is required")
	case strings.TrimSpace(p.ProjectID) == "":
		return errors.New("project_id is required")
	case strings.TrimSpace(p.PredictionID) == "":
		return errors.New("prediction_id is required")
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, run *orchestrator.Run, p Params, t *tracker) error {
	layerCount := p.LayerCount
	if layerCount == 0 {
		layerCount = projects.DefaultLayerCount
	}
	if _, err := projects.NormalizeLayerCount(&layerCount); err != nil {
		return orchestrator.Permanent(err)
	}
	if strings.TrimSpace(p.SourceImageURL) == "" {
		return orchestrator.Permanent(errors.New("source_image_url is required"))
	}

	layers, err := orchestrator.Do(ctx, run, StepGenerateLayers, func(ctx context.Context) (layersResult, error) {
		raw, err := e.inference.GenerateLayers(ctx, projects.PredictionInput{
			ImageURL:  p.SourceImageURL,
			NumLayers: layerCount,
		})
		if err != nil {
			return layersResult{}, err
		}
		images, err := projects.ParseLayersOutput(raw)
		if err != nil {
			return layersResult{}, orchestrator.Permanent(err)
		}
		return layersResult{Raw: raw, Images: images}, nil
	})
	if err != nil {
		return err
	}
	if err := t.advance(ctx, PhaseLayersGenerated); err != nil {
		return orchestrator.Permanent(err)
	}

	jobCtx := ctx
	name, err := orchestrator.Do(ctx, run, StepGenerateName, func(ctx context.Context) (*string, error) {
		name := e.caption(ctx, run.Log, p.SourceImageURL)
		// An attempt timeout is just another caption failure. Only a job that is
		// shutting down must not record "no name".
		if err := jobCtx.Err(); err != nil {
			return nil, err
		}
		return name, nil
	})
	if err != nil {
		return err
	}

	if _, err := orchestrator.Do(ctx, run, StepPersistPredictionOutput, func(ctx context.Context) (bool, error) {
		return true, ledgerErr(e.ledger.SetPredictionOutput(ctx, p.PredictionID, layers.Raw))
	}); err != nil {
		return err
	}
	if err := t.advance(ctx, PhaseOutputPersisted); err != nil {
		return orchestrator.Permanent(err)
	}

	if name != nil {
		if _, err := orchestrator.Do(ctx, run, StepPersistProjectName, func(ctx context.Context) (bool, error) {
			return true, ledgerErr(e.ledger.SetProjectName(ctx, p.ProjectID, *name))
		}); err != nil {
			return err
		}
		if err := t.advance(ctx, PhaseNamePersisted); err != nil {
			return orchestrator.Permanent(err)
		}
	}

	if err := e.uploadAll(ctx, run, p, layers.Images, t); err != nil {
		return err
	}

	if _, err := orchestrator.Do(ctx, run, StepMarkCompleted, func(ctx context.Context) (bool, error) {
		return true, ledgerErr(e.ledger.MarkTerminal(ctx, domainagg.MarkTerminalInput{
			ProjectID:    p.ProjectID,
			PredictionID: p.PredictionID,
			Status:       projects.StatusCompleted,
		}))
	}); err != nil {
		return err
	}
	return t.advance(ctx, PhaseCompleted)
}

func (e *Engine) uploadAll(ctx context.Context, run *orchestrator.Run, p Params, images []projects.OutputImage, t *tracker) error {
	t.mu.Lock()
	t.total = len(images)
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.UploadConcurrency)
	for i := range images {
		i, img := i, images[i]
		g.Go(func() error {
			step := StepUploadOutputPrefix + strconv.Itoa(i)
			if _, err := orchestrator.Do(gctx, run, step, func(ctx context.Context) (string, error) {
				return e.uploadOutput(ctx, p.PredictionID, i, img)
			}); err != nil {
				return err
			}
			if err := t.advance(gctx, PhaseBlobsUploaded); err != nil {
				return orchestrator.Permanent(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload outputs: %w", err)
	}
	return nil
}

// compensate flips both rows to failed under its own checkpoint and stores the
// reason so later runs can report it.
func (e *Engine) compensate(ctx context.Context, run *orchestrator.Run, p Params, cause error) error {
	_, err := orchestrator.Do(ctx, run, StepMarkFailed, func(ctx context.Context) (string, error) {
		err := e.ledger.MarkTerminal(ctx, domainagg.MarkTerminalInput{
			ProjectID:    p.ProjectID,
			PredictionID: p.PredictionID,
			Status:       projects.StatusFailed,
		})
		if err != nil {
			return "", ledgerErr(err)
		}
		return cause.Error(), nil
	})
	return err
}

// ledgerErr stops retries for ledger errors that a retry cannot fix.
func ledgerErr(err error) error {
	if err == nil {
		return nil
	}
	if domainagg.IsPermanent(err) || domainagg.IsCode(err, domainagg.CodeConflict) {
		return orchestrator.Permanent(err)
	}
	return err
}
