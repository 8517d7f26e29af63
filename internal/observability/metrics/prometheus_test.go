package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRequest(http.MethodGet, "/api/family/{id}", 200, 3*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/family/{id}", 200, 5*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/family/{id}", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/family/{id}", "200")); got != 2 {
		t.Errorf("200 count = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.HTTPRequests); got != 2 {
		t.Errorf("series = %d, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(http.MethodPost, "/api/logs", 201, time.Millisecond)
	m.PrescriptionChanged("created")
	m.LogTransition("taken")
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.LogTransition("taken")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `medtrack_logs_writes_total{status="taken"} 1`) {
		t.Errorf("metrics body lacks log write counter:\n%s", rec.Body.String())
	}
}
