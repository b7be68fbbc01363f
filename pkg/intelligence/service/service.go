// Package service ties storage, the correlation engine and the optional
// graph, messaging and narrative backends into investigation workflows.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
)

var (
	// ErrInvalidInput wraps request data that fails validation
	ErrInvalidInput = errors.New("invalid input")
	// ErrSummaryUnavailable is returned when no summarizer is configured
	ErrSummaryUnavailable = errors.New("narrative summaries are not configured")
	// ErrNoCorrelations is returned by Insights before any correlation is stored
	ErrNoCorrelations = errors.New("investigation has no correlations; run correlate first")
)

// GraphSync mirrors runs into a graph database
type GraphSync interface {
	SyncRun(ctx context.Context, inv *domain.Investigation, events []domain.ForensicEvent, items []domain.OSINTItem, correlations []domain.Correlation) error
	DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error
}

// Publisher announces finished runs
type Publisher interface {
	PublishRun(ctx context.Context, id domain.InvestigationID, result *correlation.Result) error
}

// Summarizer writes investigation-level narratives from a report
type Summarizer interface {
	Summarize(ctx context.Context, inv *domain.Investigation, report *correlation.Report, notes string) (string, error)
	Insights(ctx context.Context, report *correlation.Report) (string, error)
}

// Service provides investigation workflows on top of a Store
type Service struct {
	store      storage.Store
	engine     *correlation.Engine
	graph      GraphSync
	publisher  Publisher
	summarizer Summarizer
	clusterGap time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures optional backends
type Option func(*Service)

// WithGraph mirrors every run into a graph store
func WithGraph(g GraphSync) Option {
	return func(s *Service) { s.graph = g }
}

// WithPublisher announces every run
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSummarizer enables Summarize and Insights
func WithSummarizer(sum Summarizer) Option {
	return func(s *Service) { s.summarizer = sum }
}

// WithClusterGap sets the gap used by Patterns
func WithClusterGap(gap time.Duration) Option {
	return func(s *Service) { s.clusterGap = gap }
}

// NewService creates a service
func NewService(logger *zap.Logger, store storage.Store, engine *correlation.Engine, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("correlation engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		engine:     engine,
		clusterGap: correlation.DefaultClusterGap,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInvestigation assigns an ID when missing, marks it active and stores it
func (s *Service) CreateInvestigation(ctx context.Context, inv domain.Investigation) (*domain.Investigation, error) {
	if inv.ID == "" {
		inv.ID = domain.InvestigationID(uuid.NewString())
	}
	if inv.Status == "" {
		inv.Status = domain.StatusActive
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now().UTC()
	}
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.store.CreateInvestigation(ctx, &inv); err != nil {
		return nil, err
	}
	s.logger.Info("Investigation created",
		zap.String("investigation_id", string(inv.ID)),
		zap.String("name", inv.Name))
	return &inv, nil
}

// GetInvestigation returns one investigation
func (s *Service) GetInvestigation(ctx context.Context, id domain.InvestigationID) (*domain.Investigation, error) {
	return s.store.GetInvestigation(ctx, id)
}

// ListInvestigations returns all investigations, newest first
func (s *Service) ListInvestigations(ctx context.Context) ([]domain.Investigation, error) {
	return s.store.ListInvestigations(ctx)
}

// DeleteInvestigation removes the investigation from the store and the graph
func (s *Service) DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error {
	if err := s.store.DeleteInvestigation(ctx, id); err != nil {
		return err
	}
	if s.graph != nil {
		if err := s.graph.DeleteInvestigation(ctx, id); err != nil {
			s.logger.Warn("Failed to delete investigation graph",
				zap.String("investigation_id", string(id)),
				zap.Error(err))
		}
	}
	return nil
}

// AddEvents validates and stores forensic events. Events without an
// investigation ID are assigned to id.
func (s *Service) AddEvents(ctx context.Context, id domain.InvestigationID, events []domain.ForensicEvent) (int, error) {
	for i := range events {
		e := &events[i]
		if e.InvestigationID == "" {
			e.InvestigationID = id
		}
		if e.InvestigationID != id {
			return 0, fmt.Errorf("%w: event %s belongs to investigation %s", ErrInvalidInput, e.ID, e.InvestigationID)
		}
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if e.Type == "" {
			e.Type = domain.EventTypeOther
		}
	}
	if err := s.store.SaveEvents(ctx, id, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// AddItems validates and stores OSINT items, like AddEvents
func (s *Service) AddItems(ctx context.Context, id domain.InvestigationID, items []domain.OSINTItem) (int, error) {
	for i := range items {
		it := &items[i]
		if it.InvestigationID == "" {
			it.InvestigationID = id
		}
		if it.InvestigationID != id {
			return 0, fmt.Errorf("%w: item %s belongs to investigation %s", ErrInvalidInput, it.ID, it.InvestigationID)
		}
		if err := it.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	if err := s.store.SaveItems(ctx, id, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Correlate runs the engine over everything stored for an investigation,
// replaces the stored results and then syncs and publishes them. Graph and
// publish failures are logged; the stored run stands.
func (s *Service) Correlate(ctx context.Context, id domain.InvestigationID) (*correlation.Result, error) {
	inv, events, items, err := s.evidence(ctx, id)
	if err != nil {
		return nil, err
	}

	in := correlation.RunInput{Events: events, Items: items}
	if inv.Location != nil {
		in.DefaultLocations = map[domain.InvestigationID]domain.Coordinate{id: *inv.Location}
	}

	result, err := s.engine.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceCorrelations(ctx, id, result.Correlations); err != nil {
		return nil, fmt.Errorf("store correlations: %w", err)
	}

	if s.graph != nil {
		if err := s.graph.SyncRun(ctx, inv, result.Events, result.Items, result.Correlations); err != nil {
			s.logger.Warn("Graph sync failed",
				zap.String("investigation_id", string(id)),
				zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishRun(ctx, id, result); err != nil {
			s.logger.Warn("Publishing run failed",
				zap.String("investigation_id", string(id)),
				zap.String("run_id", result.RunID),
				zap.Error(err))
		}
	}

	s.logger.Info("Investigation correlated",
		zap.String("investigation_id", string(id)),
		zap.String("run_id", result.RunID),
		zap.Int("correlations", len(result.Correlations)),
		zap.Duration("duration", result.Summary.Duration))
	return result, nil
}

// Correlations lists stored correlations at or above minStrength
func (s *Service) Correlations(ctx context.Context, id domain.InvestigationID, minStrength float64, limit int) ([]domain.Correlation, error) {
	if math.IsNaN(minStrength) || minStrength < 0 || minStrength > 1 {
		return nil, fmt.Errorf("%w: min_strength must be within [0,1]", ErrInvalidInput)
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}
	return s.store.ListCorrelations(ctx, id, minStrength, limit)
}

// Report builds the correlation report from stored results
func (s *Service) Report(ctx context.Context, id domain.InvestigationID) (*correlation.Report, error) {
	a, err := s.analysis(ctx, id)
	if err != nil {
		return nil, err
	}
	return correlation.BuildReport(a.correlations, a.events, a.items), nil
}

// Timeline builds the merged timeline from stored results
func (s *Service) Timeline(ctx context.Context, id domain.InvestigationID) ([]correlation.TimelineEntry, error) {
	a, err := s.analysis(ctx, id)
	if err != nil {
		return nil, err
	}
	return correlation.BuildTimeline(a.correlations, a.events, a.items), nil
}

// Patterns finds activity patterns in stored results
func (s *Service) Patterns(ctx context.Context, id domain.InvestigationID) (*correlation.Patterns, error) {
	a, err := s.analysis(ctx, id)
	if err != nil {
		return nil, err
	}
	return correlation.FindPatterns(a.correlations, a.events, a.items, s.clusterGap), nil
}

// Statistics returns stored counts and strength aggregates
func (s *Service) Statistics(ctx context.Context, id domain.InvestigationID) (*storage.Statistics, error) {
	return s.store.Statistics(ctx, id)
}

// Export is a complete snapshot of an investigation
type Export struct {
	Investigation *domain.Investigation       `json:"investigation" yaml:"investigation"`
	Events        []domain.ForensicEvent      `json:"events" yaml:"events"`
	Items         []domain.OSINTItem          `json:"items" yaml:"items"`
	Correlations  []domain.Correlation        `json:"correlations" yaml:"correlations"`
	Report        *correlation.Report         `json:"report" yaml:"report"`
	Timeline      []correlation.TimelineEntry `json:"timeline" yaml:"timeline"`
	ExportedAt    time.Time                   `json:"exported_at" yaml:"exported_at"`
}

// Export snapshots the investigation with its evidence and results
func (s *Service) Export(ctx context.Context, id domain.InvestigationID) (*Export, error) {
	a, err := s.analysis(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Export{
		Investigation: a.inv,
		Events:        a.events,
		Items:         a.items,
		Correlations:  a.correlations,
		Report:        correlation.BuildReport(a.correlations, a.events, a.items),
		Timeline:      correlation.BuildTimeline(a.correlations, a.events, a.items),
		ExportedAt:    s.now().UTC(),
	}, nil
}

// Summarize asks the summarizer for a narrative summary of the report.
// notes is optional analyst context.
func (s *Service) Summarize(ctx context.Context, id domain.InvestigationID, notes string) (string, error) {
	if s.summarizer == nil {
		return "", ErrSummaryUnavailable
	}
	a, err := s.analysis(ctx, id)
	if err != nil {
		return "", err
	}
	report := correlation.BuildReport(a.correlations, a.events, a.items)
	return s.summarizer.Summarize(ctx, a.inv, report, notes)
}

// Insights asks the summarizer for priorities and follow-up actions
// across the stored correlations
func (s *Service) Insights(ctx context.Context, id domain.InvestigationID) (string, error) {
	if s.summarizer == nil {
		return "", ErrSummaryUnavailable
	}
	a, err := s.analysis(ctx, id)
	if err != nil {
		return "", err
	}
	if len(a.correlations) == 0 {
		return "", ErrNoCorrelations
	}
	report := correlation.BuildReport(a.correlations, a.events, a.items)
	return s.summarizer.Insights(ctx, report)
}

func (s *Service) evidence(ctx context.Context, id domain.InvestigationID) (*domain.Investigation, []domain.ForensicEvent, []domain.OSINTItem, error) {
	inv, err := s.store.GetInvestigation(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	events, err := s.store.ListEvents(ctx, id, storage.EventFilter{})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load events: %w", err)
	}
	items, err := s.store.ListItems(ctx, id, storage.ItemFilter{})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load items: %w", err)
	}
	return inv, events, items, nil
}

type analysis struct {
	inv          *domain.Investigation
	events       []domain.ForensicEvent
	items        []domain.OSINTItem
	correlations []domain.Correlation
}

func (s *Service) analysis(ctx context.Context, id domain.InvestigationID) (*analysis, error) {
	inv, events, items, err := s.evidence(ctx, id)
	if err != nil {
		return nil, err
	}
	correlations, err := s.store.ListCorrelations(ctx, id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load correlations: %w", err)
	}
	return &analysis{inv: inv, events: events, items: items, correlations: correlations}, nil
}
