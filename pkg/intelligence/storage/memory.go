package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
	"go.uber.org/zap"
)

// MemoryStorage provides bounded in-memory storage for investigations
type MemoryStorage struct {
	logger *zap.Logger

	investigations map[domain.InvestigationID]*storedInvestigation

	// Bounds
	maxInvestigations int

	// Metrics
	evictions  int64
	stores     int64
	retrievals int64

	mu sync.RWMutex
}

// storedInvestigation wraps an investigation with its records and access metadata
type storedInvestigation struct {
	investigation domain.Investigation
	events        map[string]domain.ForensicEvent
	items         map[string]domain.OSINTItem
	correlations  []domain.Correlation

	storedAt    time.Time
	accessedAt  time.Time
	accessCount int
}

// MemoryStorageConfig configures the memory storage
type MemoryStorageConfig struct {
	MaxInvestigations int // Least recently used investigations are evicted beyond this
}

// DefaultMemoryStorageConfig returns sensible defaults
func DefaultMemoryStorageConfig() MemoryStorageConfig {
	return MemoryStorageConfig{
		MaxInvestigations: 1000,
	}
}

// NewMemoryStorage creates a new bounded memory storage
func NewMemoryStorage(logger *zap.Logger, config MemoryStorageConfig) *MemoryStorage {
	if config.MaxInvestigations <= 0 {
		config = DefaultMemoryStorageConfig()
	}
	return &MemoryStorage{
		logger:            logger,
		investigations:    make(map[domain.InvestigationID]*storedInvestigation),
		maxInvestigations: config.MaxInvestigations,
	}
}

var _ Store = (*MemoryStorage)(nil)

// CreateInvestigation stores a new investigation
func (m *MemoryStorage) CreateInvestigation(ctx context.Context, inv *domain.Investigation) error {
	if inv == nil {
		return fmt.Errorf("investigation is nil")
	}
	if err := inv.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.investigations[inv.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, inv.ID)
	}

	// Check if we need to evict
	if len(m.investigations) >= m.maxInvestigations {
		m.evictOldest()
	}

	now := time.Now()
	m.investigations[inv.ID] = &storedInvestigation{
		investigation: *inv,
		events:        make(map[string]domain.ForensicEvent),
		items:         make(map[string]domain.OSINTItem),
		storedAt:      now,
		accessedAt:    now,
	}
	m.stores++
	return nil
}

// GetInvestigation returns a copy of the investigation
func (m *MemoryStorage) GetInvestigation(ctx context.Context, id domain.InvestigationID) (*domain.Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	inv := stored.investigation
	return &inv, nil
}

// ListInvestigations returns investigations newest first
func (m *MemoryStorage) ListInvestigations(ctx context.Context) ([]domain.Investigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Investigation, 0, len(m.investigations))
	for _, stored := range m.investigations {
		out = append(out, stored.investigation)
	}
	slices.SortFunc(out, func(a, b domain.Investigation) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// DeleteInvestigation drops the investigation and all of its records
func (m *MemoryStorage) DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.investigations[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.investigations, id)
	return nil
}

// SaveEvents upserts events into the investigation
func (m *MemoryStorage) SaveEvents(ctx context.Context, id domain.InvestigationID, events []domain.ForensicEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return err
	}
	for _, e := range events {
		e.InvestigationID = id
		stored.events[e.ID] = e
	}
	m.stores++
	return nil
}

// ListEvents returns matching events in timeline order
func (m *MemoryStorage) ListEvents(ctx context.Context, id domain.InvestigationID, filter EventFilter) ([]domain.ForensicEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ForensicEvent, 0, len(stored.events))
	for _, e := range stored.events {
		if filter.Match(&e) {
			out = append(out, e)
		}
	}
	SortEvents(out)
	return firstN(out, filter.Limit), nil
}

// SaveItems upserts OSINT items into the investigation
func (m *MemoryStorage) SaveItems(ctx context.Context, id domain.InvestigationID, items []domain.OSINTItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return err
	}
	for _, it := range items {
		it.InvestigationID = id
		stored.items[it.ID] = it
	}
	m.stores++
	return nil
}

// ListItems returns matching items in timeline order
func (m *MemoryStorage) ListItems(ctx context.Context, id domain.InvestigationID, filter ItemFilter) ([]domain.OSINTItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OSINTItem, 0, len(stored.items))
	for _, it := range stored.items {
		if filter.Match(&it) {
			out = append(out, it)
		}
	}
	SortItems(out)
	return firstN(out, filter.Limit), nil
}

// ReplaceCorrelations swaps in a new ranked result set
func (m *MemoryStorage) ReplaceCorrelations(ctx context.Context, id domain.InvestigationID, correlations []domain.Correlation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return err
	}
	stored.correlations = slices.Clone(correlations)
	m.stores++
	return nil
}

// ListCorrelations returns stored correlations in rank order
func (m *MemoryStorage) ListCorrelations(ctx context.Context, id domain.InvestigationID, minStrength float64, limit int) ([]domain.Correlation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Correlation, 0, len(stored.correlations))
	for _, c := range stored.correlations {
		if c.Strength >= minStrength {
			out = append(out, c)
		}
	}
	return firstN(out, limit), nil
}

// Statistics counts records and summarizes correlation strength
func (m *MemoryStorage) Statistics(ctx context.Context, id domain.InvestigationID) (*Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		InvestigationID: id,
		Events:          len(stored.events),
		Items:           len(stored.items),
	}
	for i := range stored.correlations {
		stats.Add(&stored.correlations[i])
	}
	return stats, nil
}

// Cleanup removes investigations not accessed within olderThan
func (m *MemoryStorage) Cleanup(ctx context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, stored := range m.investigations {
		if stored.accessedAt.Before(cutoff) {
			delete(m.investigations, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("Cleaned up idle investigations",
			zap.Int("removed", removed),
			zap.Duration("older_than", olderThan),
		)
	}
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

// GetMetrics returns storage metrics
func (m *MemoryStorage) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"investigations_stored": len(m.investigations),
		"total_stores":          m.stores,
		"total_retrievals":      m.retrievals,
		"total_evictions":       m.evictions,
		"capacity":              m.maxInvestigations,
		"utilization":           float64(len(m.investigations)) / float64(m.maxInvestigations) * 100,
	}
}

// touch looks up an investigation and records the access. Callers hold the write lock.
func (m *MemoryStorage) touch(id domain.InvestigationID) (*storedInvestigation, error) {
	stored, exists := m.investigations[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	stored.accessedAt = time.Now()
	stored.accessCount++
	m.retrievals++
	return stored, nil
}

// evictOldest removes the least recently accessed investigation (LRU)
func (m *MemoryStorage) evictOldest() {
	var oldestID domain.InvestigationID
	var oldestAccess time.Time

	for id, stored := range m.investigations {
		if oldestID == "" || stored.accessedAt.Before(oldestAccess) {
			oldestID = id
			oldestAccess = stored.accessedAt
		}
	}

	if oldestID != "" {
		delete(m.investigations, oldestID)
		m.evictions++
		m.logger.Warn("Evicted investigation from memory storage",
			zap.String("investigation_id", string(oldestID)),
		)
	}
}
