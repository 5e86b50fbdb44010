package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"

	"gorm.io/gorm"

	dataagg "github.com/yungbote/layered-backend/internal/data/aggregates"
	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	repoprojects "github.com/yungbote/layered-backend/internal/data/repos/projects"
	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/apierr"
	"github.com/yungbote/layered-backend/internal/platform/objectstore"
)

const testBaseURL = "https://api.test"

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
	return d.err
}

func (d *recordingDispatcher) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type fixture struct {
	db         *gorm.DB
	ledger     domainagg.ProjectLedger
	jobRepo    jobrepos.JobRunRepo
	projRepo   repoprojects.ProjectRepo
	dispatcher *recordingDispatcher
	store      *objectstore.MemoryStore
	blobs      BlobService
	projects   ProjectService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	projRepo := repoprojects.NewProjectRepo(db, log)
	predRepo := repoprojects.NewPredictionRepo(db, log)
	blobRepo := repoprojects.NewBlobRepo(db, log)
	linkRepo := repoprojects.NewPredictionBlobRepo(db, log)
	ledger := dataagg.NewProjectLedger(dataagg.ProjectLedgerDeps{
		Base:        dataagg.BaseDeps{DB: db, Log: log},
		Projects:    projRepo,
		Predictions: predRepo,
		Blobs:       blobRepo,
		Links:       linkRepo,
	})
	jobRepo := jobrepos.NewJobRunRepo(db, log)
	dispatcher := &recordingDispatcher{}
	jobSvc := NewJobService(db, log, jobRepo, nil, dispatcher)
	store := objectstore.NewMemoryStore()
	return &fixture{
		db:         db,
		ledger:     ledger,
		jobRepo:    jobRepo,
		projRepo:   projRepo,
		dispatcher: dispatcher,
		store:      store,
		blobs:      NewBlobService(log, blobRepo, store),
		projects: NewProjectService(log, ProjectServiceDeps{
			Ledger:        ledger,
			Projects:      projRepo,
			Predictions:   predRepo,
			Links:         linkRepo,
			Jobs:          jobSvc,
			PublicBaseURL: testBaseURL + "/",
		}),
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func (f *fixture) upload(t *testing.T) *projects.Blob {
	t.Helper()
	blob, err := f.blobs.Upload(context.Background(), UploadInput{FileName: "fox.png", Data: pngBytes(t, 3, 2)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return blob
}

func apiStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error")
	}
	ae, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected api error, got %T: %v", err, err)
	}
	return ae.Status, ae.Code
}

var errDispatchDown = errors.New("scheduler unavailable")
