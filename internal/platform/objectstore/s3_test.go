package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/layered-backend/internal/platform/logger"
)

// fakeS3 implements the path-style PUT/GET/HEAD subset the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StoreAgainstFakeEndpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	st, err := New(ctx, logger.NewNop(), Config{
		Mode:              ModeS3,
		Bucket:            "blobs",
		S3Endpoint:        srv.URL,
		S3Region:          "us-east-1",
		S3AccessKeyID:     "test",
		S3SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := st.Stat(ctx, "pred-0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, err := st.Get(ctx, "pred-0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if err := st.Put(ctx, "pred-0", []byte("png-bytes"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := string(fake.objects["blobs/pred-0"]); got != "png-bytes" {
		t.Fatalf("stored body: %q", got)
	}
	attrs, err := st.Stat(ctx, "pred-0")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs.Size != int64(len("png-bytes")) || attrs.ContentType != "image/png" || attrs.ETag != "etag" {
		t.Fatalf("unexpected attrs: %+v", attrs)
	}
	obj, err := st.Get(ctx, "pred-0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer obj.Body.Close()
	body, _ := io.ReadAll(obj.Body)
	if string(body) != "png-bytes" {
		t.Fatalf("body: %q", body)
	}
}
