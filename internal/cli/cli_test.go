package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/sift/internal/output"
	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/version"
)

const eventsJSON = `[
  {"id": "e1", "timestamp": "2024-03-01T12:00:00Z", "file_path": "/home/user/protest_plan.docx", "event_type": "modified"},
  {"id": "e2", "timestamp": "2024-03-11T12:00:00Z", "file_path": "/tmp/cache.bin", "event_type": "created",
   "location": {"lat": 35.6762, "lon": 139.6503}}
]`

const itemsYAML = `- id: i1
  source: social-post
  timestamp: 2024-03-01T12:30:00Z
  title: protest plan downtown
  location:
    lat: 40.7128
    lon: -74.0060
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes the command tree with a quiet config file
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgFile := writeFile(t, t.TempDir(), "sift.yaml", "logging:\n  level: error\n")

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgFile}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sift "+version.Version))

	out, err = run(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestCorrelateCommand(t *testing.T) {
	dir := t.TempDir()
	events := writeFile(t, dir, "events.json", eventsJSON)
	items := writeFile(t, dir, "items.yaml", itemsYAML)

	out, err := run(t, "", "correlate", "--events", events, "--items", items,
		"--location", "40.7128,-74.0060", "-o", "json")
	require.NoError(t, err)

	var run output.RunOutput
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, 2, run.Summary.Events)
	assert.Equal(t, 1, run.Summary.Items)
	require.NotEmpty(t, run.Correlations)

	top := run.Correlations[0]
	assert.Equal(t, "e1", top.EventID)
	assert.Equal(t, "i1", top.ItemID)
	spatial, ok := top.Spatial.Value()
	require.True(t, ok)
	assert.InDelta(t, 1.0, spatial, 1e-9)
}

func TestCorrelateCommandStdinAndOverrides(t *testing.T) {
	dir := t.TempDir()
	items := writeFile(t, dir, "items.yaml", itemsYAML)

	out, err := run(t, eventsJSON, "correlate", "--events", "-", "--items", items,
		"--min-strength", "0", "--pruning", "off", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "pruning: \"off\"")
	assert.Contains(t, out, "event_id: e2")
}

func TestCorrelateCommandErrors(t *testing.T) {
	dir := t.TempDir()
	events := writeFile(t, dir, "events.json", eventsJSON)
	items := writeFile(t, dir, "items.yaml", itemsYAML)
	broken := writeFile(t, dir, "broken.json", `[{"id": "e1", "color": "red"}]`)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing flags", []string{"correlate"}, "required flag"},
		{"both stdin", []string{"correlate", "--events", "-", "--items", "-"}, "only one of"},
		{"bad format", []string{"correlate", "--events", events, "--items", items, "-o", "xml"}, "invalid output format"},
		{"bad location", []string{"correlate", "--events", events, "--items", items, "--location", "north"}, "invalid location"},
		{"unknown field", []string{"correlate", "--events", broken, "--items", items}, "read events"},
		{"missing file", []string{"correlate", "--events", filepath.Join(dir, "nope.json"), "--items", items}, "read events"},
		{"bad pruning", []string{"correlate", "--events", events, "--items", items, "--pruning", "sometimes"}, "unknown pruning mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	_, err := run(t, "", "migrate", "up")
	assert.ErrorContains(t, err, "only apply to postgres")

	_, err = run(t, "", "migrate")
	assert.Error(t, err)
}

func TestBuildRunInput(t *testing.T) {
	loc := domain.Coordinate{Lat: 1, Lon: 2}
	in := buildRunInput(
		[]domain.ForensicEvent{{ID: "e1"}, {ID: "e2", InvestigationID: "case-9"}},
		[]domain.OSINTItem{{ID: "i1"}},
		"cli", &loc,
	)
	assert.Equal(t, domain.InvestigationID("cli"), in.Events[0].InvestigationID)
	assert.Equal(t, domain.InvestigationID("case-9"), in.Events[1].InvestigationID)
	assert.Equal(t, domain.InvestigationID("cli"), in.Items[0].InvestigationID)
	assert.Equal(t, map[domain.InvestigationID]domain.Coordinate{"cli": loc, "case-9": loc}, in.DefaultLocations)

	assert.Nil(t, buildRunInput(nil, nil, "cli", nil).DefaultLocations)
}

func TestReadRecordsSniffsFormat(t *testing.T) {
	dir := t.TempDir()

	var fromJSON []domain.OSINTItem
	require.NoError(t, readRecords(nil, writeFile(t, dir, "items.txt", `[{"id": "i1", "source": "web-page"}]`), &fromJSON))
	require.Len(t, fromJSON, 1)
	assert.Equal(t, domain.SourceWebPage, fromJSON[0].Source)

	var fromYAML []domain.OSINTItem
	require.NoError(t, readRecords(strings.NewReader(itemsYAML), "-", &fromYAML))
	require.Len(t, fromYAML, 1)
	require.NotNil(t, fromYAML[0].Timestamp)
	assert.Equal(t, 30, fromYAML[0].Timestamp.Minute())
}

func TestRunServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.API.Address = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, runServe(ctx, &cfg, zaptest.NewLogger(t), true))
}

func TestAPIConfig(t *testing.T) {
	c := config.Default().API
	c.CORSOrigins = []string{"https://ui.example"}
	got := apiConfig(c)
	assert.Equal(t, c.Address, got.Address)
	assert.Equal(t, c.MaxBodyBytes, got.MaxBodyBytes)
	assert.Equal(t, []string{"https://ui.example"}, got.AllowedOrigins)
	assert.Equal(t, version.Get().Version, got.Version)
}
