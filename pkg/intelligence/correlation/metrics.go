package correlation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics provides OTEL instruments for correlation runs
type engineMetrics struct {
	runs                metric.Int64Counter
	runDuration         metric.Float64Histogram
	candidates          metric.Int64Counter
	candidatesPruned    metric.Int64Counter
	correlations        metric.Int64Counter
	skippedRecords      metric.Int64Counter
	enhancementFailures metric.Int64Counter
	strength            metric.Float64Histogram
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	m := &engineMetrics{}
	var err error

	if m.runs, err = meter.Int64Counter(
		"sift.correlation.runs",
		metric.WithDescription("Correlation runs by outcome"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram(
		"sift.correlation.run.duration",
		metric.WithDescription("Wall time of a correlation run"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.candidates, err = meter.Int64Counter(
		"sift.correlation.candidates.scored",
		metric.WithDescription("Candidate pairs scored"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.candidatesPruned, err = meter.Int64Counter(
		"sift.correlation.candidates.pruned",
		metric.WithDescription("Candidate pairs skipped by temporal bucketing"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.correlations, err = meter.Int64Counter(
		"sift.correlation.correlations.found",
		metric.WithDescription("Correlations returned above threshold"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.skippedRecords, err = meter.Int64Counter(
		"sift.correlation.records.skipped",
		metric.WithDescription("Malformed input records excluded from a run"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.enhancementFailures, err = meter.Int64Counter(
		"sift.correlation.enhancement.failures",
		metric.WithDescription("Narrative calls that failed or timed out"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.strength, err = meter.Float64Histogram(
		"sift.correlation.strength",
		metric.WithDescription("Strength of returned correlations"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) recordRun(ctx context.Context, summary *Summary, result []float64, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	if summary == nil {
		return
	}
	m.runDuration.Record(ctx, float64(summary.Duration)/float64(time.Millisecond), attrs)
	m.candidates.Add(ctx, summary.CandidatesGenerated)
	m.candidatesPruned.Add(ctx, summary.CandidatesPruned)
	m.correlations.Add(ctx, int64(summary.Correlations))
	m.skippedRecords.Add(ctx, int64(summary.SkippedEvents), metric.WithAttributes(attribute.String("kind", "event")))
	m.skippedRecords.Add(ctx, int64(summary.SkippedItems), metric.WithAttributes(attribute.String("kind", "item")))
	m.enhancementFailures.Add(ctx, int64(summary.EnhancementFailures))
	for _, s := range result {
		m.strength.Record(ctx, s)
	}
}
