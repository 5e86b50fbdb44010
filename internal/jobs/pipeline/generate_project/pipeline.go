package generate_project

import (
	"context"
	"fmt"

	jobrt "github.com/yungbote/layered-backend/internal/jobs/runtime"
)

// Pipeline adapts Engine to the job runtime.
type Pipeline struct {
	engine *Engine
}

func New(engine *Engine) *Pipeline {
	return &Pipeline{engine: engine}
}

func (p *Pipeline) Type() string { return JobType }

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var params Params
	if err := jc.DecodePayload(&params); err != nil {
		return fmt.Errorf("decode %s payload: %w", JobType, err)
	}
	report := func(_ context.Context, phase Phase, pct int) {
		if phase.Terminal() {
			return
		}
		jc.Progress(string(phase), pct)
	}
	if err := p.engine.RunWithProgress(jc.Ctx, jc.Job.ID, params, report); err != nil {
		return err
	}
	jc.Succeed(string(PhaseCompleted), map[string]any{
		"project_id":    params.ProjectID,
		"prediction_id": params.PredictionID,
	})
	return nil
}
