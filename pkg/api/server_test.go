package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/health"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/service"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, inv *domain.Investigation, report *correlation.Report, notes string) (string, error) {
	text := "Investigation " + inv.Name + " has findings."
	if notes != "" {
		text += " Notes: " + notes
	}
	return text, nil
}

func (stubSummarizer) Insights(ctx context.Context, report *correlation.Report) (string, error) {
	return fmt.Sprintf("Review %d correlations.", report.TotalCorrelations), nil
}

func setupTestServer(t *testing.T, config Config, opts ...service.Option) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage(logger, storage.DefaultMemoryStorageConfig())
	engine, err := correlation.NewEngine(logger, correlation.DefaultConfig(), nil)
	require.NoError(t, err)
	svc, err := service.NewService(logger, store, engine, opts...)
	require.NoError(t, err)

	server, err := NewServer(svc, NewMetrics(), logger, config)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const (
	eventsBody = `[
		{"id":"e1","timestamp":"2024-03-01T12:00:00Z","file_path":"/home/user/protest_plan.docx","event_type":"modified"},
		{"id":"e2","timestamp":"2024-03-11T12:00:00Z","file_path":"/tmp/cache.bin","event_type":"created","location":{"lat":35.67,"lon":139.65}}
	]`
	itemsBody = `[
		{"id":"i1","source":"social-post","timestamp":"2024-03-01T12:30:00Z","title":"protest plan downtown","location":{"lat":40.71,"lon":-74.0}}
	]`
)

func createInvestigation(t *testing.T, s *Server) domain.Investigation {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/investigations",
		`{"id":"case-7","name":"Case 7","location":{"lat":40.7128,"lon":-74.006},"location_name":"New York"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Investigation](t, rec)
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil, zaptest.NewLogger(t), DefaultConfig())
	assert.Error(t, err)

	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage(logger, storage.DefaultMemoryStorageConfig())
	engine, err := correlation.NewEngine(logger, correlation.DefaultConfig(), nil)
	require.NoError(t, err)
	svc, err := service.NewService(logger, store, engine)
	require.NoError(t, err)
	_, err = NewServer(svc, nil, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	s := setupTestServer(t, cfg)

	rec := do(t, s, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHealthComponents(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		code     int
		status   string
	}{
		{"optional component down", false, http.StatusOK, "degraded"},
		{"critical component down", true, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := setupTestServer(t, DefaultConfig())
			registry := health.NewRegistry(time.Second)
			registry.Register(health.NewPingChecker("neo4j", func(context.Context) error {
				return errors.New("connection refused")
			}), tt.critical)

			s, err := NewServer(base.backend, nil, base.logger, DefaultConfig(), WithHealth(registry))
			require.NoError(t, err)

			rec := do(t, s, http.MethodGet, "/api/v1/health", "")
			require.Equal(t, tt.code, rec.Code)
			body := decode[map[string]any](t, rec)
			assert.Equal(t, tt.status, body["status"])
			components := body["components"].(map[string]any)
			neo := components["neo4j"].(map[string]any)
			assert.Equal(t, "connection refused", neo["message"])
		})
	}
}

func TestInvestigationLifecycle(t *testing.T) {
	s := setupTestServer(t, DefaultConfig())
	inv := createInvestigation(t, s)
	assert.Equal(t, domain.InvestigationID("case-7"), inv.ID)
	assert.Equal(t, domain.StatusActive, inv.Status)

	rec := do(t, s, http.MethodGet, "/api/v1/investigations/case-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Case 7", decode[domain.Investigation](t, rec).Name)

	rec = do(t, s, http.MethodGet, "/api/v1/investigations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Investigations []domain.Investigation `json:"investigations"`
		Count          int                    `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = do(t, s, http.MethodPost, "/api/v1/investigations", `{"id":"case-7","name":"again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/investigations/case-7", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "not found")
}

func TestCorrelateFlow(t *testing.T) {
	s := setupTestServer(t, DefaultConfig(), service.WithSummarizer(stubSummarizer{}))
	createInvestigation(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/investigations/case-7/events", eventsBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[map[string]int](t, rec)["stored"])

	rec = do(t, s, http.MethodPost, "/api/v1/investigations/case-7/items", itemsBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/investigations/case-7/correlate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[correlation.Summary](t, rec)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 1, summary.Items)
	require.Positive(t, summary.Correlations)

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/correlations?min_strength=0.5&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Correlations []domain.Correlation `json:"correlations"`
		Count        int                  `json:"count"`
	}](t, rec)
	require.NotEmpty(t, listed.Correlations)
	assert.Equal(t, "e1", listed.Correlations[0].EventID)
	for _, c := range listed.Correlations {
		assert.GreaterOrEqual(t, c.Strength, 0.5)
	}

	for _, path := range []string{"report", "timeline", "patterns", "export", "statistics", "summary", "insights"} {
		rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/"+path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path+": "+rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/report", "")
	report := decode[correlation.Report](t, rec)
	assert.Equal(t, summary.Correlations, report.TotalCorrelations)

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/export", "")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "investigation-case-7.json")

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/summary", "")
	assert.Equal(t, "Investigation Case 7 has findings.", decode[map[string]string](t, rec)["summary"])

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/summary?notes=seized+laptop", "")
	assert.Equal(t, "Investigation Case 7 has findings. Notes: seized laptop", decode[map[string]string](t, rec)["summary"])

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/case-7/insights", "")
	assert.Equal(t, fmt.Sprintf("Review %d correlations.", summary.Correlations), decode[map[string]string](t, rec)["insights"])
}

func TestInsightsBeforeCorrelate(t *testing.T) {
	s := setupTestServer(t, DefaultConfig(), service.WithSummarizer(stubSummarizer{}))
	createInvestigation(t, s)

	rec := do(t, s, http.MethodGet, "/api/v1/investigations/case-7/insights", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "run correlate first")

	rec = do(t, s, http.MethodGet, "/api/v1/investigations/nope/insights", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	s := setupTestServer(t, DefaultConfig())
	createInvestigation(t, s)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/investigations/case-7/events", `[{`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/v1/investigations/case-7/items", "", http.StatusBadRequest},
		{"trailing data", http.MethodPost, "/api/v1/investigations/case-7/items", `[] []`, http.StatusBadRequest},
		{"event without id", http.MethodPost, "/api/v1/investigations/case-7/events", `[{"file_path":"/a"}]`, http.StatusBadRequest},
		{"foreign event", http.MethodPost, "/api/v1/investigations/case-7/events", `[{"id":"e","investigation_id":"other"}]`, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/v1/investigations", `{"name":""}`, http.StatusBadRequest},
		{"bad min strength", http.MethodGet, "/api/v1/investigations/case-7/correlations?min_strength=2", "", http.StatusBadRequest},
		{"nan min strength", http.MethodGet, "/api/v1/investigations/case-7/correlations?min_strength=NaN", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/investigations/case-7/correlations?limit=-3", "", http.StatusBadRequest},
		{"unknown investigation", http.MethodPost, "/api/v1/investigations/nope/correlate", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v2/anything", "", http.StatusNotFound},
		{"summary without narrator", http.MethodGet, "/api/v1/investigations/case-7/summary", "", http.StatusServiceUnavailable},
		{"insights without narrator", http.MethodGet, "/api/v1/investigations/case-7/insights", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 160
	s := setupTestServer(t, cfg)
	createInvestigation(t, s)

	body := `[{"id":"e1","file_path":"` + strings.Repeat("a", 200) + `"}]`
	rec := do(t, s, http.MethodPost, "/api/v1/investigations/case-7/events", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://ui.example"}
	s := setupTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://ui.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/investigations", nil)
	req.Header.Set("Origin", "https://ui.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, DefaultConfig())
	createInvestigation(t, s)
	do(t, s, http.MethodPost, "/api/v1/investigations/case-7/correlate", "")
	do(t, s, http.MethodPost, "/api/v1/investigations/missing/correlate", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `sift_http_requests_total{code="201",method="POST",route="/api/v1/investigations"} 1`)
	assert.Contains(t, body, `sift_correlation_runs_total{outcome="ok"} 1`)
	assert.Contains(t, body, `sift_correlation_runs_total{outcome="error"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := setupTestServer(t, DefaultConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + ln.Addr().String() + "/api/v1/health")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
