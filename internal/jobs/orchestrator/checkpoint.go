package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

// CheckpointStore persists step results. Put must keep the first value written
// for a (jobID, step) pair.
type CheckpointStore interface {
	Get(ctx context.Context, jobID, step string) (json.RawMessage, bool, error)
	Put(ctx context.Context, jobID, step string, raw json.RawMessage) error
}

type repoCheckpoints struct {
	repo jobrepos.StepCheckpointRepo
}

// NewRepoCheckpoints adapts the job_step_checkpoint table.
func NewRepoCheckpoints(repo jobrepos.StepCheckpointRepo) CheckpointStore {
	return &repoCheckpoints{repo: repo}
}

func (c *repoCheckpoints) Get(ctx context.Context, jobID, step string) (json.RawMessage, bool, error) {
	return c.repo.Get(dbctx.Context{Ctx: ctx}, jobID, step)
}

func (c *repoCheckpoints) Put(ctx context.Context, jobID, step string, raw json.RawMessage) error {
	return c.repo.Put(dbctx.Context{Ctx: ctx}, jobID, step, raw)
}

// MemoryCheckpoints is an in-process CheckpointStore.
type MemoryCheckpoints struct {
	mu   sync.Mutex
	rows map[string]json.RawMessage
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{rows: map[string]json.RawMessage{}}
}

func (m *MemoryCheckpoints) Get(_ context.Context, jobID, step string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rows[jobID+"\x00"+step]
	return raw, ok, nil
}

func (m *MemoryCheckpoints) Put(_ context.Context, jobID, step string, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobID + "\x00" + step
	if _, ok := m.rows[key]; ok {
		return nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	m.rows[key] = append(json.RawMessage(nil), raw...)
	return nil
}

func (m *MemoryCheckpoints) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
