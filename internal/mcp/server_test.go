package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/service"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, inv *domain.Investigation, report *correlation.Report, notes string) (string, error) {
	return fmt.Sprintf("%s: %d correlations. %s", inv.Name, report.TotalCorrelations, notes), nil
}

func (stubSummarizer) Insights(ctx context.Context, report *correlation.Report) (string, error) {
	return fmt.Sprintf("Start with %s.", report.Top[0].FilePath), nil
}

func setupSession(t *testing.T, opts ...service.Option) *sdkmcp.ClientSession {
	t.Helper()
	logger := zaptest.NewLogger(t)

	engine, err := correlation.NewEngine(logger, correlation.DefaultConfig(), nil)
	require.NoError(t, err)
	store := storage.NewMemoryStorage(logger, storage.DefaultMemoryStorageConfig())
	svc, err := service.NewService(logger, store, engine, opts...)
	require.NoError(t, err)

	srv := NewServer(svc, logger, "test")

	ctx := context.Background()
	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	_, err = srv.MCPServer.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, name)
	require.NotEmpty(t, result.Content, name)
	tc, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "expected text content from %s, got %T", name, result.Content[0])
	return tc.Text, result.IsError
}

func mustCall(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	text, isErr := call(t, session, name, args)
	require.False(t, isErr, "%s failed: %s", name, text)
	return text
}

func TestListTools(t *testing.T) {
	session := setupSession(t)

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"create_investigation", "list_investigations", "add_events", "add_items",
		"correlate", "get_correlations", "get_report", "get_timeline",
		"get_patterns", "get_statistics", "summarize_investigation", "get_insights",
	}, names)
}

func TestInvestigationWorkflow(t *testing.T) {
	session := setupSession(t, service.WithSummarizer(stubSummarizer{}))

	assert.Contains(t, mustCall(t, session, "list_investigations", map[string]any{}), "No investigations yet")

	var inv domain.Investigation
	require.NoError(t, json.Unmarshal([]byte(mustCall(t, session, "create_investigation", map[string]any{
		"name":     "Case 7",
		"location": "40.7128,-74.0060",
	})), &inv))
	require.NotEmpty(t, inv.ID)
	require.NotNil(t, inv.Location)
	id := string(inv.ID)

	assert.Equal(t, "Stored 2 events", mustCall(t, session, "add_events", map[string]any{
		"investigation_id": id,
		"events": []map[string]any{
			{"id": "e1", "timestamp": "2024-03-01T12:00:00Z", "file_path": "/home/user/protest_plan.docx", "event_type": "modified"},
			{"id": "e2", "timestamp": "2024-03-11T12:00:00Z", "file_path": "/tmp/cache.bin", "event_type": "created", "location": "35.6762,139.6503"},
		},
	}))
	assert.Equal(t, "Stored 1 items", mustCall(t, session, "add_items", map[string]any{
		"investigation_id": id,
		"items": []map[string]any{
			{"id": "i1", "source": "social-post", "timestamp": "2024-03-01T12:30:00Z", "title": "protest plan downtown", "location": "40.7128,-74.0060"},
		},
	}))

	var run correlateOutput
	require.NoError(t, json.Unmarshal([]byte(mustCall(t, session, "correlate", map[string]any{"investigation_id": id})), &run))
	assert.Equal(t, 2, run.Summary.Events)
	require.NotEmpty(t, run.Correlations)
	assert.Equal(t, "e1", run.Correlations[0].EventID)
	assert.Equal(t, "i1", run.Correlations[0].ItemID)

	var corrs []domain.Correlation
	require.NoError(t, json.Unmarshal([]byte(mustCall(t, session, "get_correlations", map[string]any{
		"investigation_id": id,
		"min_strength":     0.5,
	})), &corrs))
	require.Len(t, corrs, 1)
	assert.GreaterOrEqual(t, corrs[0].Strength, 0.5)

	var report correlation.Report
	require.NoError(t, json.Unmarshal([]byte(mustCall(t, session, "get_report", map[string]any{"investigation_id": id})), &report))
	assert.Equal(t, len(run.Correlations), report.TotalCorrelations)

	var stats storage.Statistics
	require.NoError(t, json.Unmarshal([]byte(mustCall(t, session, "get_statistics", map[string]any{"investigation_id": id})), &stats))
	assert.Equal(t, 2, stats.Events)

	mustCall(t, session, "get_timeline", map[string]any{"investigation_id": id})
	mustCall(t, session, "get_patterns", map[string]any{"investigation_id": id})

	assert.Equal(t, fmt.Sprintf("Case 7: %d correlations. Phone seized.", report.TotalCorrelations),
		mustCall(t, session, "summarize_investigation", map[string]any{"investigation_id": id, "notes": "Phone seized."}))
	assert.Equal(t, "Start with /home/user/protest_plan.docx.",
		mustCall(t, session, "get_insights", map[string]any{"investigation_id": id}))
}

func TestInsightsBeforeCorrelate(t *testing.T) {
	session := setupSession(t, service.WithSummarizer(stubSummarizer{}))

	var inv domain.Investigation
	require.NoError(t, json.Unmarshal([]byte(mustCall(t, session, "create_investigation", map[string]any{"name": "Case 8"})), &inv))

	text, isErr := call(t, session, "get_insights", map[string]any{"investigation_id": string(inv.ID)})
	assert.True(t, isErr)
	assert.Contains(t, text, "run correlate first")

	text, isErr = call(t, session, "get_insights", map[string]any{"investigation_id": "nope"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Investigation not found")
}

func TestToolErrors(t *testing.T) {
	session := setupSession(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"missing name", "create_investigation", map[string]any{"name": " "}, "name is required"},
		{"bad location", "create_investigation", map[string]any{"name": "x", "location": "north"}, "Invalid location"},
		{"unknown investigation", "correlate", map[string]any{"investigation_id": "nope"}, "Investigation not found"},
		{"bad timestamp", "add_events", map[string]any{
			"investigation_id": "nope",
			"events":           []map[string]any{{"id": "e1", "file_path": "/x", "event_type": "created", "timestamp": "yesterday"}},
		}, "RFC 3339"},
		{"no summarizer", "summarize_investigation", map[string]any{"investigation_id": "nope"}, "not configured"},
		{"no insights backend", "get_insights", map[string]any{"investigation_id": "nope"}, "not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, session, tt.tool, tt.args)
			assert.True(t, isErr, text)
			assert.Contains(t, text, tt.want)
		})
	}
}
