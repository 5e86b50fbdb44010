package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/layered-backend/internal/clients/redis"
	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
)

func newTestBus(t *testing.T) (redis.ProjectBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	bus := redis.NewProjectBusFromClient(testutil.Logger(t), rdb, "project")
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr
}

func TestJobNotifierPublishesToProjectChannel(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan redis.ProjectEvent, 4)
	if err := bus.Subscribe(ctx, "p1", func(ev redis.ProjectEvent) { events <- ev }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n := NewJobNotifier(testutil.Logger(t), bus)
	job := &jobs.JobRun{ID: "j1", EntityType: entityProject, EntityID: "p1", Progress: 40}
	n.JobProgress(ctx, job, "generate-layers", 40)
	n.JobFailed(ctx, job, "upload-output-1", "boom")

	want := []redis.ProjectEvent{
		{Type: redis.EventProgress, Stage: "generate-layers", Progress: 40},
		{Type: redis.EventFailed, Stage: "upload-output-1", Progress: 40, Error: "boom"},
	}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.ProjectID != "p1" || ev.JobID != "j1" || ev.Type != w.Type || ev.Stage != w.Stage || ev.Progress != w.Progress || ev.Error != w.Error {
				t.Fatalf("event %d: got %+v", i, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestJobNotifierPublishesAfterCancel(t *testing.T) {
	bus, _ := newTestBus(t)
	subCtx, stop := context.WithCancel(context.Background())
	defer stop()
	events := make(chan redis.ProjectEvent, 1)
	if err := bus.Subscribe(subCtx, "p2", func(ev redis.ProjectEvent) { events <- ev }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	NewJobNotifier(testutil.Logger(t), bus).JobDone(runCtx, &jobs.JobRun{ID: "j2", EntityType: entityProject, EntityID: "p2"})

	select {
	case ev := <-events:
		if ev.Type != redis.EventCompleted || ev.Progress != 100 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("completion event not published")
	}
}

func TestJobNotifierIgnoresUnownedJobs(t *testing.T) {
	n := NewJobNotifier(testutil.Logger(t), nil)
	// Neither call may panic.
	n.JobDone(context.Background(), &jobs.JobRun{ID: "j"})
	n.JobProgress(context.Background(), nil, "x", 1)
}
