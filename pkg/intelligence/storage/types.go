package storage

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

var (
	// ErrNotFound is returned for unknown investigations
	ErrNotFound = errors.New("investigation not found")
	// ErrAlreadyExists is returned when creating a duplicate investigation
	ErrAlreadyExists = errors.New("investigation already exists")
)

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Start        *time.Time
	End          *time.Time
	PathContains string
	Limit        int
}

// Match reports whether e passes the filter. Undated events only pass
// filters without a time range.
func (f EventFilter) Match(e *domain.ForensicEvent) bool {
	if f.Start != nil || f.End != nil {
		if e.Timestamp == nil {
			return false
		}
		if f.Start != nil && e.Timestamp.Before(*f.Start) {
			return false
		}
		if f.End != nil && e.Timestamp.After(*f.End) {
			return false
		}
	}
	return f.PathContains == "" || containsFold(e.FilePath, f.PathContains)
}

// ItemFilter narrows ListItems
type ItemFilter struct {
	Source domain.OSINTSource
	Limit  int
}

// Match reports whether o passes the filter
func (f ItemFilter) Match(o *domain.OSINTItem) bool {
	return f.Source == "" || o.Source == f.Source
}

// Statistics summarizes what an investigation holds
type Statistics struct {
	InvestigationID domain.InvestigationID `json:"investigation_id"`
	Events          int                    `json:"events"`
	Items           int                    `json:"items"`
	Correlations    int                    `json:"correlations"`
	Narrated        int                    `json:"narrated"`
	AverageStrength float64                `json:"average_strength"`
	MaxStrength     float64                `json:"max_strength"`
	High            int                    `json:"high_confidence"`
	Medium          int                    `json:"medium_confidence"`
	Low             int                    `json:"low_confidence"`
}

// Add folds one correlation into the statistics
func (s *Statistics) Add(c *domain.Correlation) {
	s.AverageStrength = (s.AverageStrength*float64(s.Correlations) + c.Strength) / float64(s.Correlations+1)
	s.Correlations++
	s.MaxStrength = max(s.MaxStrength, c.Strength)
	if c.HasNarrative() {
		s.Narrated++
	}
	switch domain.ConfidenceOf(c.Strength) {
	case domain.ConfidenceHigh:
		s.High++
	case domain.ConfidenceMedium:
		s.Medium++
	default:
		s.Low++
	}
}

// Store persists investigations, their evidence and their latest correlations
type Store interface {
	CreateInvestigation(ctx context.Context, inv *domain.Investigation) error
	GetInvestigation(ctx context.Context, id domain.InvestigationID) (*domain.Investigation, error)
	ListInvestigations(ctx context.Context) ([]domain.Investigation, error)
	// DeleteInvestigation removes the investigation and everything attached to it
	DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error

	// SaveEvents upserts by event ID. Events are ordered by timestamp, undated last.
	SaveEvents(ctx context.Context, id domain.InvestigationID, events []domain.ForensicEvent) error
	ListEvents(ctx context.Context, id domain.InvestigationID, filter EventFilter) ([]domain.ForensicEvent, error)

	// SaveItems upserts by item ID. Items are ordered like events.
	SaveItems(ctx context.Context, id domain.InvestigationID, items []domain.OSINTItem) error
	ListItems(ctx context.Context, id domain.InvestigationID, filter ItemFilter) ([]domain.OSINTItem, error)

	// ReplaceCorrelations atomically swaps in the ranked output of a run
	ReplaceCorrelations(ctx context.Context, id domain.InvestigationID, correlations []domain.Correlation) error
	// ListCorrelations returns stored correlations in rank order, at or above minStrength
	ListCorrelations(ctx context.Context, id domain.InvestigationID, minStrength float64, limit int) ([]domain.Correlation, error)

	Statistics(ctx context.Context, id domain.InvestigationID) (*Statistics, error)
	Close() error
}
