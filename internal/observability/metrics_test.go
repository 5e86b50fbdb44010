package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/healthz", "200", time.Millisecond)
	m.ObserveAggregateOperation("op", "success", time.Millisecond)
	m.IncAggregateConflict("op")
	m.IncAggregateRetry("op")
	m.ObserveStepAttempt("upload-layer-0", "success", time.Millisecond)
	m.IncStepReplay("upload-layer-0")
	m.ObserveJob("generate_project", "succeeded", time.Second)
	m.SetStaleProjects(3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil metrics handler should 404, got %d", rec.Code)
	}
}

func TestMetricsRecordsWorkflowSignals(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncAggregateConflict("project_ledger.insert_output_blob")
	m.IncAggregateConflict("project_ledger.insert_output_blob")
	m.IncStepReplay("run-inference")
	m.SetStaleProjects(7)

	if got := testutil.ToFloat64(m.aggregateConflict.WithLabelValues("project_ledger.insert_output_blob")); got != 2 {
		t.Fatalf("conflicts: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.stepReplays.WithLabelValues("run-inference")); got != 1 {
		t.Fatalf("replays: want=1 got=%v", got)
	}
	if got := testutil.ToFloat64(m.staleProjects); got != 7 {
		t.Fatalf("stale gauge: want=7 got=%v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "layered_projects_stale_processing 7") {
		t.Fatalf("exposition missing stale gauge:\n%s", body)
	}
}
