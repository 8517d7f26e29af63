package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/familyrx/medtrack/internal/observability/metrics"
)

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("request id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Errorf("generated request id = %q", seen)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://family.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{"allowed origin", http.MethodGet, "https://family.example", "https://family.example", http.StatusTeapot},
		{"other origin", http.MethodGet, "https://evil.example", "", http.StatusTeapot},
		{"preflight", http.MethodOptions, "https://family.example", "https://family.example", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/medications", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestRecoverWritesEnvelope(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	h := APIKeyAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want pass-through", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	var client string
	h := APIKeyAuth(map[string]string{"k1": "web"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client = ClientIDFrom(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantClient string
	}{
		{"api key header", "X-API-Key", "k1", http.StatusOK, "web"},
		{"bearer token", "Authorization", "Bearer k1", http.StatusOK, "web"},
		{"unknown key", "X-API-Key", "nope", http.StatusUnauthorized, ""},
		{"missing", "", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client = ""
			req := httptest.NewRequest(http.MethodGet, "/api/family", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus || client != tt.wantClient {
				t.Errorf("status = %d client = %q, want %d %q", rec.Code, client, tt.wantStatus, tt.wantClient)
			}
		})
	}
}

func TestObserveUsesRoutePattern(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe("test", zap.New(core), m))
	r.Get("/api/family/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/family/"+id, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/family/{id}", "404")); got != 2 {
		t.Errorf("request count = %v, want 2 under the route pattern", got)
	}
	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("access log entries = %d, want 2", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/api/family/{id}" || fields["status"] != int64(404) || fields["request_id"] == "" {
		t.Errorf("access log fields = %v", fields)
	}
}
