package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	dataagg "github.com/yungbote/layered-backend/internal/data/aggregates"
	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	repoprojects "github.com/yungbote/layered-backend/internal/data/repos/projects"
	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	httpH "github.com/yungbote/layered-backend/internal/http/handlers"
	"github.com/yungbote/layered-backend/internal/platform/objectstore"
	"github.com/yungbote/layered-backend/internal/services"
)

type nopDispatcher struct{ ids []string }

func (d *nopDispatcher) Dispatch(_ context.Context, id string) error {
	d.ids = append(d.ids, id)
	return nil
}

type apiFixture struct {
	db         *gorm.DB
	router     *gin.Engine
	dispatcher *nopDispatcher
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
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
	dispatcher := &nopDispatcher{}
	jobSvc := services.NewJobService(db, log, jobrepos.NewJobRunRepo(db, log), nil, dispatcher)
	blobSvc := services.NewBlobService(log, blobRepo, objectstore.NewMemoryStore())
	projSvc := services.NewProjectService(log, services.ProjectServiceDeps{
		Ledger:        ledger,
		Projects:      projRepo,
		Predictions:   predRepo,
		Links:         linkRepo,
		Jobs:          jobSvc,
		PublicBaseURL: "https://api.test",
	})
	router := NewRouter(RouterConfig{
		Log:            log,
		UploadHandler:  httpH.NewUploadHandler(log, blobSvc),
		ProjectHandler: httpH.NewProjectHandler(log, projSvc),
		BlobHandler:    httpH.NewBlobHandler(log, blobSvc),
		OpsHandler:     httpH.NewOpsHandler(projSvc),
		HealthHandler:  httpH.NewHealthHandler(db),
	})
	return &apiFixture{db: db, router: router, dispatcher: dispatcher}
}

func (f *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) uploadPNG(t *testing.T) string {
	t.Helper()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 5, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "fox.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(img.Bytes())
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := f.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Blob projects.Blob `json:"blob"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if out.Blob.Width != 5 || out.Blob.Height != 4 {
		t.Fatalf("unexpected dimensions %dx%d", out.Blob.Width, out.Blob.Height)
	}
	return out.Blob.ID
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUploadCreateAndFetchProject(t *testing.T) {
	f := newAPI(t)
	blobID := f.uploadPNG(t)

	rec := f.do(t, jsonRequest(http.MethodPost, "/api/projects", `{"blobId":"`+blobID+`","layerCount":3}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created services.ProjectDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if created.Project.Status != projects.StatusProcessing || len(f.dispatcher.ids) != 1 {
		t.Fatalf("expected processing project with one dispatch, got %s / %v", created.Project.Status, f.dispatcher.ids)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/"+created.Project.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	var got services.ProjectDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if got.InputBlob == nil || got.InputBlob.ID != blobID || len(got.Outputs) != 0 {
		t.Fatalf("unexpected detail %+v", got)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(created.Project.ID)) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateProjectErrors(t *testing.T) {
	f := newAPI(t)
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{`, http.StatusBadRequest, "invalid_request"},
		{"unknown blob", `{"blobId":"nope"}`, http.StatusNotFound, "blob_not_found"},
		{"bad layer count", `{"blobId":"nope","layerCount":12}`, http.StatusBadRequest, "invalid_layer_count"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, jsonRequest(http.MethodPost, "/api/projects", tc.body))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rec.Code, rec.Body.String())
			}
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			_ = json.Unmarshal(rec.Body.Bytes(), &env)
			if env.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, env.Error.Code)
			}
		})
	}
}

func TestServeBlobIsImmutable(t *testing.T) {
	f := newAPI(t)
	blobID := f.uploadPNG(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/blobs/"+blobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("serve: %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("unexpected cache-control %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content-type %q", got)
	}
	if _, err := png.DecodeConfig(io.Reader(rec.Body)); err != nil {
		t.Fatalf("served bytes are not the png: %v", err)
	}

	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/blobs/"+uuid.NewString(), nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown blob, got %d", rec.Code)
	}
}

func TestPredictionLayersFallback(t *testing.T) {
	f := newAPI(t)
	run := testutil.SeedRun(t, context.Background(), f.db, 2)
	if err := f.db.Model(&projects.Prediction{}).Where("id = ?", run.Prediction.ID).
		Update("output", `{"images":[{"url":"https://cdn.test/0.png"}]}`).Error; err != nil {
		t.Fatalf("set output: %v", err)
	}
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/predictions/"+run.Prediction.ID+"/layers", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("https://cdn.test/0.png")) {
		t.Fatalf("layers: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStaleProjectsEndpoint(t *testing.T) {
	f := newAPI(t)
	old := &projects.Project{ID: uuid.NewString(), Status: projects.StatusProcessing, CreatedAt: time.Now().Add(-2 * time.Hour)}
	if err := f.db.Create(old).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/ops/stale-projects?older_than=1h", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(old.ID)) {
		t.Fatalf("stale: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/ops/stale-projects?older_than=soon", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad duration, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
