package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

func sampleResult() *correlation.Result {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	its := ts.Add(30 * time.Minute)
	delta := 30 * time.Minute
	dist := 1.5
	note := "Both mention the march."
	return &correlation.Result{
		RunID: "run-1",
		Correlations: []domain.Correlation{
			{ID: "c1", EventID: "e1", ItemID: "i1", EventTimestamp: &ts, Strength: 0.82,
				Temporal: domain.Applicable(0.98), Spatial: domain.Applicable(0.97), Content: domain.NotApplicable(),
				TimeDelta: &delta, DistanceKM: &dist, Narrative: &note},
			{ID: "c2", EventID: "e2", ItemID: "i1", Strength: 0.35,
				Temporal: domain.NotApplicable(), Spatial: domain.Applicable(0.35), Content: domain.Applicable(0.1)},
		},
		Summary: correlation.Summary{RunID: "run-1", Events: 2, Items: 1, Correlations: 2, Pruning: correlation.PruneAuto,
			Skipped: []correlation.SkippedRecord{{Kind: "event", ID: "bad", Reason: "invalid location"}}},
		Events: []domain.ForensicEvent{
			{ID: "e1", FilePath: "/docs/plan.docx", Type: domain.EventTypeModified, Timestamp: &ts},
			{ID: "e2", FilePath: "/tmp/x", Type: domain.EventTypeCreated},
		},
		Items: []domain.OSINTItem{
			{ID: "i1", Source: domain.SourceNewsArticle, Title: "March planned", URL: "https://news.example/a", Timestamp: &its},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatHuman, "text": FormatHuman, "JSON": FormatJSON, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.ErrorContains(t, err, "human, json, yaml")
}

func TestNewRunOutput(t *testing.T) {
	run := NewRunOutput(sampleResult())
	require.Len(t, run.Correlations, 2)

	v := run.Correlations[0]
	assert.Equal(t, "/docs/plan.docx", v.FilePath)
	assert.Equal(t, "March planned", v.Title)
	assert.Equal(t, domain.ConfidenceHigh, v.Confidence)
	assert.Equal(t, domain.ConfidenceLow, run.Correlations[1].Confidence)
	assert.Equal(t, 2, run.Report.TotalCorrelations)
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatJSON, &buf).PrintRun(NewRunOutput(sampleResult())))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	first := decoded["correlations"].([]any)[0].(map[string]any)
	assert.Nil(t, first["content_score"])
	assert.Equal(t, "/docs/plan.docx", first["file_path"])
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatYAML, &buf).PrintRun(NewRunOutput(sampleResult())))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	summary := decoded["summary"].(map[string]any)
	assert.Equal(t, 2, summary["events"])
}

func TestHumanFormatter(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatHuman, &buf).PrintRun(NewRunOutput(sampleResult())))
	out := buf.String()

	assert.Contains(t, out, "Correlation run run-1")
	assert.Contains(t, out, "2 correlations")
	assert.Contains(t, out, "skipped 1 invalid records")
	assert.Contains(t, out, " 1. 0.820 HIGH   /docs/plan.docx ↔ March planned")
	assert.Contains(t, out, "item 30m0s after")
	assert.Contains(t, out, "content n/a")
	assert.Contains(t, out, "(1.5 km)")
	assert.Contains(t, out, "Both mention the march.")
	assert.Contains(t, out, "undated")
}

func TestHumanFormatterEmptyAndTruncated(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	require.NoError(t, NewHumanFormatter(&buf).PrintRun(&RunOutput{RunID: "r"}))
	assert.Contains(t, buf.String(), "No correlations")

	views := make([]CorrelationView, humanMaxRows+5)
	for i := range views {
		views[i] = CorrelationView{ID: "c", EventID: "e", ItemID: "i", Strength: 0.5, Confidence: domain.ConfidenceMedium}
	}
	buf.Reset()
	require.NoError(t, NewHumanFormatter(&buf).PrintRun(&RunOutput{RunID: "r", Correlations: views}))
	assert.Contains(t, buf.String(), "... 5 more")
	assert.Equal(t, humanMaxRows, strings.Count(buf.String(), "MEDIUM"))
}
