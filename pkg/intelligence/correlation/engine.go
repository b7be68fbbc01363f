package correlation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yairfalse/sift/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	instrumentationName = "sift.correlation"
	scoreBatchSize      = 512
)

// RunInput is one correlation run's evidence and intelligence
type RunInput struct {
	Events []domain.ForensicEvent
	Items  []domain.OSINTItem

	// Investigation locations applied to events without their own coordinate
	DefaultLocations map[domain.InvestigationID]domain.Coordinate
}

// SkippedRecord is an input record excluded for violating an invariant
type SkippedRecord struct {
	Kind   string `json:"kind" yaml:"kind"`
	ID     string `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// Summary describes what a run did besides producing correlations
type Summary struct {
	RunID               string          `json:"run_id" yaml:"run_id"`
	Pruning             PruningMode     `json:"pruning" yaml:"pruning"`
	Events              int             `json:"events" yaml:"events"`
	Items               int             `json:"items" yaml:"items"`
	SkippedEvents       int             `json:"skipped_events" yaml:"skipped_events"`
	SkippedItems        int             `json:"skipped_items" yaml:"skipped_items"`
	Skipped             []SkippedRecord `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	CandidatesGenerated int64           `json:"candidates_generated" yaml:"candidates_generated"`
	CandidatesPruned    int64           `json:"candidates_pruned" yaml:"candidates_pruned"`
	BelowThreshold      int64           `json:"below_threshold" yaml:"below_threshold"`
	Duplicates          int             `json:"duplicates" yaml:"duplicates"`
	Correlations        int             `json:"correlations" yaml:"correlations"`
	EnhancementAttempts int             `json:"enhancement_attempts" yaml:"enhancement_attempts"`
	EnhancementFailures int             `json:"enhancement_failures" yaml:"enhancement_failures"`
	Duration            time.Duration   `json:"duration" yaml:"duration"`
}

// Result is the ranked output of one run
type Result struct {
	RunID        string               `json:"run_id"`
	Correlations []domain.Correlation `json:"correlations"`
	Summary      Summary              `json:"summary"`

	// Validated inputs the correlations refer to
	Events []domain.ForensicEvent `json:"-"`
	Items  []domain.OSINTItem     `json:"-"`
}

// Engine scores forensic events against OSINT items
type Engine struct {
	logger *zap.Logger
	config Config

	scorer     *Scorer
	enhancer   *Enhancer
	similarity SimilarityFactory
	decay      DecayFunc

	tracer  trace.Tracer
	metrics *engineMetrics
}

// NewEngine creates a new correlation engine. narrator may be nil when
// enhancement is disabled.
func NewEngine(logger *zap.Logger, config Config, narrator Narrator) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Enhancement.Enabled && narrator == nil {
		return nil, ErrNoNarrator
	}

	scorer, err := NewScorer(config.Weights)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		logger:     logger.With(zap.String("component", "correlation-engine")),
		config:     config,
		scorer:     scorer,
		similarity: NewTFIDFSimilarity,
		decay:      LinearDecay,
	}
	if narrator != nil {
		engine.enhancer = NewEnhancer(logger, narrator, config.Enhancement)
	}
	if err := engine.SetTelemetry(otel.GetMeterProvider(), otel.GetTracerProvider()); err != nil {
		return nil, err
	}

	logger.Info("Correlation engine created",
		zap.Float64("weight_temporal", config.Weights.Temporal),
		zap.Float64("weight_spatial", config.Weights.Spatial),
		zap.Float64("weight_content", config.Weights.Content),
		zap.Duration("time_window", config.TimeWindow),
		zap.Float64("max_distance_km", config.MaxDistanceKM),
		zap.Float64("min_strength", config.MinStrength),
		zap.String("pruning", string(config.Pruning)),
		zap.Bool("enhancement", config.Enhancement.Enabled),
	)
	if config.Pruning == PruneTemporal && scorer.MaxStrengthWithoutTime() >= config.MinStrength {
		logger.Warn("Temporal pruning can drop pairs that pass the threshold on spatial and content scores alone; use auto for lossless pruning",
			zap.Float64("max_strength_without_time", scorer.MaxStrengthWithoutTime()),
			zap.Float64("min_strength", config.MinStrength))
	}

	return engine, nil
}

// SetTelemetry swaps the meter and tracer providers. Call before Run.
func (e *Engine) SetTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) error {
	metrics, err := newEngineMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return fmt.Errorf("failed to create engine metrics: %w", err)
	}
	e.metrics = metrics
	e.tracer = tp.Tracer(instrumentationName)
	return nil
}

// SetSimilarity replaces the content similarity backend. Call before Run.
func (e *Engine) SetSimilarity(factory SimilarityFactory) {
	e.similarity = factory
}

// SetDecay replaces the decay curve used by temporal and spatial scoring.
// Call before Run.
func (e *Engine) SetDecay(decay DecayFunc) {
	e.decay = decay
}

// Config returns the validated configuration
func (e *Engine) Config() Config {
	return e.config
}

// Run correlates in.Events against in.Items. Malformed records are skipped
// and reported; a cancelled ctx aborts with an error and no partial result.
func (e *Engine) Run(ctx context.Context, in RunInput) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()

	ctx, span := e.tracer.Start(ctx, "correlation.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("input.events", len(in.Events)),
			attribute.Int("input.items", len(in.Items)),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, span, "start", err)
	}

	events, items, skipped := e.prepare(in)
	summary := Summary{
		RunID:   runID,
		Pruning: ResolvePruning(e.config.Pruning, e.scorer, e.config.MinStrength),
		Events:  len(events),
		Items:   len(items),
		Skipped: skipped,
	}
	for _, s := range skipped {
		if s.Kind == "event" {
			summary.SkippedEvents++
		} else {
			summary.SkippedItems++
		}
	}

	e.logger.Info("Starting correlation run",
		zap.String("run_id", runID),
		zap.Int("events", summary.Events),
		zap.Int("items", summary.Items),
		zap.Int("skipped", len(skipped)),
		zap.String("pruning", string(summary.Pruning)),
	)

	scored, generated, below, err := e.score(ctx, events, items, summary.Pruning)
	if err != nil {
		return nil, e.abort(ctx, span, "scoring", err)
	}
	summary.CandidatesGenerated = generated
	summary.CandidatesPruned = PairCount(events, items) - generated

	ranked, rankStats := Rank(scored, e.config.MinStrength)
	summary.BelowThreshold = below + int64(rankStats.BelowThreshold)
	summary.Duplicates = rankStats.Duplicates
	summary.Correlations = len(ranked)

	if e.config.Enhancement.Enabled && e.enhancer != nil {
		stats, err := e.enhance(ctx, ranked, events, items)
		if err != nil {
			return nil, e.abort(ctx, span, "enhancement", err)
		}
		summary.EnhancementAttempts = stats.Attempts
		summary.EnhancementFailures = stats.Failures
	}

	summary.Duration = time.Since(start)

	strengths := make([]float64, len(ranked))
	for i := range ranked {
		strengths[i] = ranked[i].Strength
	}
	e.metrics.recordRun(ctx, &summary, strengths, "completed")
	span.SetAttributes(
		attribute.Int64("candidates.generated", summary.CandidatesGenerated),
		attribute.Int64("candidates.pruned", summary.CandidatesPruned),
		attribute.Int("correlations", summary.Correlations),
		attribute.Int("enhancement.failures", summary.EnhancementFailures),
	)

	e.logger.Info("Correlation run completed",
		zap.String("run_id", runID),
		zap.Int("correlations", summary.Correlations),
		zap.Int64("candidates", summary.CandidatesGenerated),
		zap.Int64("pruned", summary.CandidatesPruned),
		zap.Int64("below_threshold", summary.BelowThreshold),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("enhancement_failures", summary.EnhancementFailures),
		zap.Duration("duration", summary.Duration),
	)

	return &Result{
		RunID:        runID,
		Correlations: ranked,
		Summary:      summary,
		Events:       events,
		Items:        items,
	}, nil
}

func (e *Engine) abort(ctx context.Context, span trace.Span, stage string, err error) error {
	err = ErrRunAborted(stage, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.recordRun(context.WithoutCancel(ctx), nil, nil, "aborted")
	e.logger.Warn("Correlation run aborted", zap.String("stage", stage), zap.Error(err))
	return err
}

// prepare copies and validates the input, applying investigation locations
func (e *Engine) prepare(in RunInput) ([]domain.ForensicEvent, []domain.OSINTItem, []SkippedRecord) {
	var skipped []SkippedRecord

	defaults := make(map[domain.InvestigationID]domain.Coordinate, len(in.DefaultLocations))
	for id, loc := range in.DefaultLocations {
		if err := loc.Validate(); err != nil {
			e.logger.Warn("Ignoring invalid investigation location",
				zap.String("investigation_id", string(id)),
				zap.Error(err),
			)
			continue
		}
		defaults[id] = loc
	}

	events := make([]domain.ForensicEvent, 0, len(in.Events))
	for _, ev := range in.Events {
		if err := ev.Validate(); err != nil {
			skipped = append(skipped, SkippedRecord{Kind: "event", ID: ev.ID, Reason: err.Error()})
			e.logger.Debug("Skipping malformed event", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		if ev.Type == "" {
			ev.Type = domain.EventTypeOther
		}
		if ev.Location == nil {
			if loc, ok := defaults[ev.InvestigationID]; ok {
				ev.Location = &loc
			}
		}
		events = append(events, ev)
	}

	items := make([]domain.OSINTItem, 0, len(in.Items))
	for _, it := range in.Items {
		if err := it.Validate(); err != nil {
			skipped = append(skipped, SkippedRecord{Kind: "item", ID: it.ID, Reason: err.Error()})
			e.logger.Debug("Skipping malformed item", zap.String("item_id", it.ID), zap.Error(err))
			continue
		}
		if it.Source == "" {
			it.Source = domain.SourceOther
		}
		items = append(items, it)
	}

	return events, items, skipped
}

// score runs extractors and the scorer over all candidates in parallel.
// Pairs below the threshold are counted and dropped here.
func (e *Engine) score(ctx context.Context, events []domain.ForensicEvent, items []domain.OSINTItem, mode PruningMode) ([]domain.Correlation, int64, int64, error) {
	ctx, span := e.tracer.Start(ctx, "correlation.score")
	defer span.End()

	eventTexts := make([]string, len(events))
	itemTexts := make([]string, len(items))
	corpus := make([]string, 0, len(events)+len(items))
	for i := range events {
		eventTexts[i] = events[i].Text()
		corpus = append(corpus, eventTexts[i])
	}
	for i := range items {
		itemTexts[i] = items[i].Text()
		corpus = append(corpus, itemTexts[i])
	}
	sim := e.similarity(corpus)

	seq := Candidates(events, items, CandidateOptions{
		Mode:       mode,
		Window:     e.config.TimeWindow,
		BucketSize: e.config.BucketSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.workers())

	var generated, below atomic.Int64
	var batches []*[]domain.Correlation

	flush := func(batch []Candidate) {
		out := new([]domain.Correlation)
		batches = append(batches, out)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := make([]domain.Correlation, 0, len(batch))
			for _, c := range batch {
				corr := e.scorePair(&events[c.EventIndex], &items[c.ItemIndex],
					eventTexts[c.EventIndex], itemTexts[c.ItemIndex], sim)
				if corr.Strength < e.config.MinStrength {
					below.Add(1)
					continue
				}
				res = append(res, corr)
			}
			*out = res
			return nil
		})
	}

	batch := make([]Candidate, 0, scoreBatchSize)
	for c := range seq {
		batch = append(batch, c)
		generated.Add(1)
		if len(batch) == scoreBatchSize {
			if gctx.Err() != nil {
				break
			}
			flush(batch)
			batch = make([]Candidate, 0, scoreBatchSize)
		}
	}
	if len(batch) > 0 && gctx.Err() == nil {
		flush(batch)
	}

	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}

	var total int
	for _, b := range batches {
		total += len(*b)
	}
	scored := make([]domain.Correlation, 0, total)
	for _, b := range batches {
		scored = append(scored, *b...)
	}

	span.SetAttributes(
		attribute.Int64("candidates", generated.Load()),
		attribute.Int("scored.above_threshold", len(scored)),
	)
	return scored, generated.Load(), below.Load(), nil
}

// scorePair builds the correlation for one candidate
func (e *Engine) scorePair(ev *domain.ForensicEvent, it *domain.OSINTItem, evText, itText string, sim TextSimilarity) domain.Correlation {
	temporal := TemporalScore(ev.Timestamp, it.Timestamp, e.config.TimeWindow, e.decay)
	spatial := SpatialScore(ev.Location, it.Location, e.config.MaxDistanceKM, e.decay)
	content := ContentScore(evText, itText, sim)

	corr := domain.Correlation{
		ID:              domain.CorrelationID(ev.ID, it.ID),
		InvestigationID: ev.InvestigationID,
		EventID:         ev.ID,
		ItemID:          it.ID,
		Temporal:        temporal,
		Spatial:         spatial,
		Content:         content,
		Strength:        e.scorer.Combine(temporal, spatial, content),
	}
	if ev.Timestamp != nil {
		ts := *ev.Timestamp
		corr.EventTimestamp = &ts
	}
	if d, ok := TimeDelta(ev.Timestamp, it.Timestamp); ok {
		corr.TimeDelta = &d
	}
	if ev.Location != nil && it.Location != nil {
		km := HaversineKM(*ev.Location, *it.Location)
		corr.DistanceKM = &km
	}
	return corr
}

func (e *Engine) enhance(ctx context.Context, ranked []domain.Correlation, events []domain.ForensicEvent, items []domain.OSINTItem) (EnhanceStats, error) {
	ctx, span := e.tracer.Start(ctx, "correlation.enhance")
	defer span.End()

	eventsByID, itemsByID := indexRecords(events, items)

	n := min(e.config.Enhancement.TopN, len(ranked))
	requests := make([]NarrativeRequest, n)
	for i := 0; i < n; i++ {
		c := &ranked[i]
		requests[i] = NarrativeRequest{
			CorrelationID: c.ID,
			EventSummary:  eventsByID[c.EventID].Summary(),
			ItemSummary:   itemsByID[c.ItemID].Summary(),
			Temporal:      c.Temporal,
			Spatial:       c.Spatial,
			Content:       c.Content,
			Strength:      c.Strength,
		}
	}

	stats, err := e.enhancer.Enhance(ctx, ranked, requests)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}
	span.SetAttributes(
		attribute.Int("attempts", stats.Attempts),
		attribute.Int("failures", stats.Failures),
	)
	return stats, nil
}
