package fal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/httpx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(logger.NewNop(), Config{
		Key:          "secret",
		BaseURL:      srv.URL,
		EndpointID:   "fal-ai/qwen-image-layered",
		PollInterval: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGenerateLayersPollsUntilCompleted(t *testing.T) {
	var polls int32
	result := `{"images":[{"url":"https://cdn.test/a.png","content_type":"image/png","file_name":"a.png","file_size":null,"width":4,"height":4}],"seed":1}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Key secret" {
			t.Errorf("authorization header: %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fal-ai/qwen-image-layered":
			body, _ := io.ReadAll(r.Body)
			var in projects.PredictionInput
			if err := json.Unmarshal(body, &in); err != nil || in.NumLayers != 3 || in.ImageURL != "https://img.test/in.png" {
				t.Errorf("submit body: %s", body)
			}
			_, _ = io.WriteString(w, `{"request_id":"req-1"}`)
		case r.URL.Path == "/fal-ai/qwen-image-layered/requests/req-1/status":
			if atomic.AddInt32(&polls, 1) < 3 {
				_, _ = io.WriteString(w, `{"status":"IN_PROGRESS"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"COMPLETED"}`)
		case r.URL.Path == "/fal-ai/qwen-image-layered/requests/req-1":
			_, _ = io.WriteString(w, result)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	raw, err := newTestClient(t, srv).GenerateLayers(context.Background(), projects.PredictionInput{
		ImageURL:  "https://img.test/in.png",
		NumLayers: 3,
	})
	if err != nil {
		t.Fatalf("GenerateLayers: %v", err)
	}
	if string(raw) != result {
		t.Fatalf("raw result: %s", raw)
	}
	if atomic.LoadInt32(&polls) != 3 {
		t.Fatalf("polls: %d", polls)
	}
}

func TestGenerateLayersUsesReturnedURLs(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fal-ai/qwen-image-layered":
			_, _ = io.WriteString(w, `{"request_id":"r2","status_url":"`+srv.URL+`/custom/status","response_url":"`+srv.URL+`/custom/result"}`)
		case "/custom/status":
			_, _ = io.WriteString(w, `{"status":"COMPLETED"}`)
		case "/custom/result":
			_, _ = io.WriteString(w, `{"images":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	raw, err := newTestClient(t, srv).GenerateLayers(context.Background(), projects.PredictionInput{ImageURL: "u", NumLayers: 2})
	if err != nil || string(raw) != `{"images":[]}` {
		t.Fatalf("raw=%s err=%v", raw, err)
	}
}

func TestGenerateLayersReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"overloaded"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).GenerateLayers(context.Background(), projects.PredictionInput{ImageURL: "u", NumLayers: 2})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Op != "submit" {
		t.Fatalf("expected submit APIError, got %v", err)
	}
	if httpx.StatusCode(err) != http.StatusServiceUnavailable || !httpx.IsRetryableError(err) {
		t.Fatalf("status not exposed: %v", err)
	}
}

func TestGenerateLayersStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"request_id":"slow"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"IN_QUEUE","queue_position":4}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, srv).GenerateLayers(ctx, projects.PredictionInput{ImageURL: "u", NumLayers: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(logger.NewNop(), Config{}, nil); err == nil {
		t.Fatalf("expected error without key")
	}
}
