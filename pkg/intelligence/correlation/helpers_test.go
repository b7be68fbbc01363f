package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yairfalse/sift/pkg/domain"
	"go.uber.org/zap/zaptest"
)

var baseTime = time.Date(2024, 5, 14, 18, 30, 0, 0, time.UTC)

func at(offset time.Duration) *time.Time {
	t := baseTime.Add(offset)
	return &t
}

func coord(lat, lon float64) *domain.Coordinate {
	return &domain.Coordinate{Lat: lat, Lon: lon}
}

func event(id string, inv domain.InvestigationID, ts *time.Time, path string) domain.ForensicEvent {
	return domain.ForensicEvent{
		ID:              id,
		InvestigationID: inv,
		Timestamp:       ts,
		FilePath:        path,
		Type:            domain.EventTypeModified,
	}
}

func item(id string, inv domain.InvestigationID, ts *time.Time, text string) domain.OSINTItem {
	return domain.OSINTItem{
		ID:              id,
		InvestigationID: inv,
		Source:          domain.SourceSocialPost,
		Timestamp:       ts,
		Content:         text,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeWindow = time.Hour
	cfg.MaxDistanceKM = 5
	cfg.MinStrength = 0
	cfg.Workers = 4
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, narrator Narrator) *Engine {
	t.Helper()
	engine, err := NewEngine(zaptest.NewLogger(t), cfg, narrator)
	require.NoError(t, err)
	return engine
}
