package generate_project

import (
	"context"
	"fmt"
	"sync"
)

// Phase is the coarse position of a job in its step list.
type Phase string

const (
	PhasePending         Phase = "pending"
	PhaseLayersGenerated Phase = "layers_generated"
	PhaseOutputPersisted Phase = "output_persisted"
	PhaseNamePersisted   Phase = "name_persisted"
	PhaseBlobsUploaded   Phase = "blobs_uploaded"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
)

var phaseTransitions = map[Phase][]Phase{
	PhasePending:         {PhaseLayersGenerated},
	PhaseLayersGenerated: {PhaseOutputPersisted},
	PhaseOutputPersisted: {PhaseNamePersisted, PhaseBlobsUploaded, PhaseCompleted},
	PhaseNamePersisted:   {PhaseBlobsUploaded, PhaseCompleted},
	PhaseBlobsUploaded:   {PhaseBlobsUploaded, PhaseCompleted},
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransition reports whether to may follow p. Failed follows any non-terminal phase.
func (p Phase) CanTransition(to Phase) bool {
	if p.Terminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	for _, next := range phaseTransitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// tracker walks the phase machine and reports progress.
type tracker struct {
	mu       sync.Mutex
	phase    Phase
	uploaded int
	total    int
	report   PhaseFunc
}

func newTracker(report PhaseFunc) *tracker {
	return &tracker{phase: PhasePending, report: report}
}

func (t *tracker) pct() int {
	switch t.phase {
	case PhaseLayersGenerated:
		return 40
	case PhaseOutputPersisted:
		return 50
	case PhaseNamePersisted:
		return 55
	case PhaseBlobsUploaded:
		if t.total <= 0 {
			return 95
		}
		return 60 + 35*t.uploaded/t.total
	case PhaseCompleted:
		return 100
	default:
		return 0
	}
}

func (t *tracker) advance(ctx context.Context, to Phase) error {
	t.mu.Lock()
	if !t.phase.CanTransition(to) {
		from := t.phase
		t.mu.Unlock()
		return fmt.Errorf("phase transition %s -> %s not allowed", from, to)
	}
	t.phase = to
	if to == PhaseBlobsUploaded {
		t.uploaded++
	}
	pct := t.pct()
	t.mu.Unlock()
	if t.report != nil {
		t.report(ctx, to, pct)
	}
	return nil
}
