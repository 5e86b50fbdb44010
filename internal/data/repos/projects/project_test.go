package projects

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

func TestProjectRepoListStaleProcessing(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewProjectRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	now := time.Now().UTC()
	rows := []*domain.Project{
		{ID: "old-processing", Status: domain.StatusProcessing, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "older-processing", Status: domain.StatusProcessing, CreatedAt: now.Add(-5 * time.Hour)},
		{ID: "fresh-processing", Status: domain.StatusProcessing, CreatedAt: now.Add(-5 * time.Minute)},
		{ID: "old-completed", Status: domain.StatusCompleted, CreatedAt: now.Add(-4 * time.Hour)},
		{ID: "old-failed", Status: domain.StatusFailed, CreatedAt: now.Add(-4 * time.Hour)},
	}
	for _, p := range rows {
		if err := repo.Create(dbc, p); err != nil {
			t.Fatalf("create %s: %v", p.ID, err)
		}
	}

	stale, err := repo.ListStaleProcessing(dbc, now.Add(-1*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStaleProcessing: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("stale count: want=2 got=%d", len(stale))
	}
	if stale[0].ID != "older-processing" || stale[1].ID != "old-processing" {
		t.Fatalf("stale order: got=%s,%s", stale[0].ID, stale[1].ID)
	}

	limited, err := repo.ListStaleProcessing(dbc, now.Add(-1*time.Hour), 1)
	if err != nil {
		t.Fatalf("ListStaleProcessing limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit not applied: got=%d", len(limited))
	}
}

func TestProjectRepoListRecent(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewProjectRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		p := &domain.Project{ID: uuid.NewString(), Status: domain.StatusCompleted, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(dbc, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	recent, err := repo.ListRecent(dbc, 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 6 {
		t.Fatalf("default limit: want=6 got=%d", len(recent))
	}
	if !recent[0].CreatedAt.After(recent[5].CreatedAt) {
		t.Fatalf("expected newest first")
	}
}

func TestPredictionBlobRepoListBlobsOrdersByPosition(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	run := testutil.SeedRun(t, ctx, db, 3)

	links := NewPredictionBlobRepo(db, testutil.Logger(t))
	blobs := NewBlobRepo(db, testutil.Logger(t))
	for _, pos := range []int{2, 0, 1} {
		id := domain.OutputBlobID(run.Prediction.ID, pos)
		testutil.SeedBlob(t, ctx, db, id)
		if err := links.Create(dbc, &domain.PredictionBlob{
			PredictionID: run.Prediction.ID,
			BlobID:       id,
			Role:         domain.RoleOutput,
			Position:     pos,
		}); err != nil {
			t.Fatalf("link %d: %v", pos, err)
		}
	}

	out, err := links.ListBlobs(dbc, run.Prediction.ID, domain.RoleOutput)
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("outputs: want=3 got=%d", len(out))
	}
	for i, b := range out {
		if b.Position != i || b.ID != domain.OutputBlobID(run.Prediction.ID, i) {
			t.Fatalf("row %d: position=%d id=%s", i, b.Position, b.ID)
		}
	}
	inputs, err := links.ListBlobs(dbc, run.Prediction.ID, domain.RoleInput)
	if err != nil {
		t.Fatalf("ListBlobs input: %v", err)
	}
	if len(inputs) != 1 || inputs[0].ID != run.InputBlob.ID {
		t.Fatalf("input link: %+v", inputs)
	}

	exists, err := blobs.Exists(dbc, domain.OutputBlobID(run.Prediction.ID, 1))
	if err != nil || !exists {
		t.Fatalf("Exists: exists=%v err=%v", exists, err)
	}
	exists, err = blobs.Exists(dbc, domain.OutputBlobID(run.Prediction.ID, 9))
	if err != nil || exists {
		t.Fatalf("Exists missing: exists=%v err=%v", exists, err)
	}
}
