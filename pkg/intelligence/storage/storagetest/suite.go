// Package storagetest holds the behavior every storage.Store must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

// Investigation returns a valid investigation fixture
func Investigation(id string) *domain.Investigation {
	return &domain.Investigation{
		ID:           domain.InvestigationID(id),
		Name:         "case " + id,
		Description:  "fixture",
		Location:     &domain.Coordinate{Lat: 40.7128, Lon: -74.0060},
		LocationName: "New York",
		Status:       domain.StatusActive,
		CreatedAt:    base,
	}
}

// Run exercises a store produced by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Investigations", func(t *testing.T) { testInvestigations(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("Items", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("Correlations", func(t *testing.T) { testCorrelations(t, newStore(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascade(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

func testInvestigations(t *testing.T, s storage.Store) {
	ctx := context.Background()

	inv := Investigation("inv-1")
	require.NoError(t, s.CreateInvestigation(ctx, inv))
	err := s.CreateInvestigation(ctx, inv)
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)

	older := Investigation("inv-0")
	older.CreatedAt = base.Add(-time.Hour)
	older.Location = nil
	require.NoError(t, s.CreateInvestigation(ctx, older))

	got, err := s.GetInvestigation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, inv.Name, got.Name)
	assert.Equal(t, inv.LocationName, got.LocationName)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 40.7128, got.Location.Lat, 1e-9)
	assert.True(t, base.Equal(got.CreatedAt))

	list, err := s.ListInvestigations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.InvestigationID("inv-1"), list[0].ID)
	assert.Nil(t, list[1].Location)

	assert.Error(t, s.CreateInvestigation(ctx, &domain.Investigation{ID: "bad"}))
}

func testEvents(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateInvestigation(ctx, Investigation("inv")))

	size := int64(2048)
	events := []domain.ForensicEvent{
		{ID: "e3", Timestamp: nil, FilePath: "/tmp/undated", Type: domain.EventTypeOther},
		{ID: "e2", Timestamp: at(2 * time.Hour), FilePath: "/docs/Plan.docx", Type: domain.EventTypeModified, Size: &size},
		{ID: "e1", Timestamp: at(0), FilePath: "/docs/notes.txt", Type: domain.EventTypeCreated,
			Location: &domain.Coordinate{Lat: 1, Lon: 2}},
	}
	require.NoError(t, s.SaveEvents(ctx, "inv", events))

	all, err := s.ListEvents(ctx, "inv", storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, eventIDs(all))
	assert.Equal(t, domain.InvestigationID("inv"), all[0].InvestigationID)
	require.NotNil(t, all[1].Size)
	assert.Equal(t, size, *all[1].Size)
	require.NotNil(t, all[0].Location)
	assert.Equal(t, 2.0, all[0].Location.Lon)

	// upsert replaces by ID
	updated := events[1]
	updated.Description = "edited"
	require.NoError(t, s.SaveEvents(ctx, "inv", []domain.ForensicEvent{updated}))
	all, err = s.ListEvents(ctx, "inv", storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "edited", all[1].Description)

	ranged, err := s.ListEvents(ctx, "inv", storage.EventFilter{Start: at(time.Hour), End: at(3 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, eventIDs(ranged))

	byPath, err := s.ListEvents(ctx, "inv", storage.EventFilter{PathContains: "plan"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, eventIDs(byPath))

	limited, err := s.ListEvents(ctx, "inv", storage.EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, eventIDs(limited))
}

func testItems(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateInvestigation(ctx, Investigation("inv")))

	items := []domain.OSINTItem{
		{ID: "i2", Source: domain.SourceNewsArticle, Timestamp: at(time.Hour), Title: "Headline", Content: "body",
			URL: "https://example.com/a", Author: "desk"},
		{ID: "i1", Source: domain.SourceSocialPost, Timestamp: at(0), Content: "post",
			Location: &domain.Coordinate{Lat: -33.9, Lon: 151.2}},
	}
	require.NoError(t, s.SaveItems(ctx, "inv", items))

	all, err := s.ListItems(ctx, "inv", storage.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "i1", all[0].ID)
	assert.Equal(t, "https://example.com/a", all[1].URL)
	require.NotNil(t, all[0].Location)
	assert.InDelta(t, 151.2, all[0].Location.Lon, 1e-9)

	news, err := s.ListItems(ctx, "inv", storage.ItemFilter{Source: domain.SourceNewsArticle})
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "Headline", news[0].Title)
}

func testCorrelations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateInvestigation(ctx, Investigation("inv")))
	require.NoError(t, s.SaveEvents(ctx, "inv", []domain.ForensicEvent{{ID: "e1", Timestamp: at(0), FilePath: "/a"}}))

	delta := 10 * time.Minute
	dist := 1.4
	text := "same march"
	first := []domain.Correlation{
		{ID: domain.CorrelationID("e1", "i1"), InvestigationID: "inv", EventID: "e1", ItemID: "i1",
			EventTimestamp: at(0), Temporal: domain.Applicable(0.99), Spatial: domain.Applicable(0.72),
			Content: domain.NotApplicable(), Strength: 0.9, TimeDelta: &delta, DistanceKM: &dist, Narrative: &text},
		{ID: domain.CorrelationID("e1", "i2"), InvestigationID: "inv", EventID: "e1", ItemID: "i2",
			Temporal: domain.NotApplicable(), Spatial: domain.NotApplicable(), Content: domain.Applicable(0.5),
			Strength: 0.5},
		{ID: domain.CorrelationID("e1", "i3"), InvestigationID: "inv", EventID: "e1", ItemID: "i3",
			Temporal: domain.Applicable(0.3), Spatial: domain.NotApplicable(), Content: domain.Applicable(0.3),
			Strength: 0.3},
	}
	require.NoError(t, s.ReplaceCorrelations(ctx, "inv", first))

	got, err := s.ListCorrelations(ctx, "inv", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "i1", got[0].ItemID)
	assert.True(t, got[0].Temporal.Equal(domain.Applicable(0.99)))
	assert.False(t, got[0].Content.IsApplicable())
	require.NotNil(t, got[0].TimeDelta)
	assert.Equal(t, delta, *got[0].TimeDelta)
	require.NotNil(t, got[0].DistanceKM)
	assert.InDelta(t, dist, *got[0].DistanceKM, 1e-9)
	require.NotNil(t, got[0].Narrative)
	assert.Equal(t, text, *got[0].Narrative)
	assert.Nil(t, got[1].EventTimestamp)
	assert.Nil(t, got[1].Narrative)

	filtered, err := s.ListCorrelations(ctx, "inv", 0.5, 0)
	require.NoError(t, err)
	assert.Len(t, filtered, 2, "threshold is inclusive")

	limited, err := s.ListCorrelations(ctx, "inv", 0, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := s.Statistics(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Events)
	assert.Equal(t, 0, stats.Items)
	assert.Equal(t, 3, stats.Correlations)
	assert.Equal(t, 1, stats.Narrated)
	assert.Equal(t, 1, stats.High)
	assert.Equal(t, 1, stats.Medium)
	assert.Equal(t, 1, stats.Low)
	assert.InDelta(t, (0.9+0.5+0.3)/3, stats.AverageStrength, 1e-9)
	assert.InDelta(t, 0.9, stats.MaxStrength, 1e-9)

	// a new run replaces the previous one entirely
	require.NoError(t, s.ReplaceCorrelations(ctx, "inv", first[1:2]))
	got, err = s.ListCorrelations(ctx, "inv", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "i2", got[0].ItemID)

	require.NoError(t, s.ReplaceCorrelations(ctx, "inv", nil))
	got, err = s.ListCorrelations(ctx, "inv", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateInvestigation(ctx, Investigation("inv")))
	require.NoError(t, s.SaveEvents(ctx, "inv", []domain.ForensicEvent{{ID: "e1", FilePath: "/a"}}))
	require.NoError(t, s.SaveItems(ctx, "inv", []domain.OSINTItem{{ID: "i1", Source: domain.SourceWebPage, Content: "x"}}))
	require.NoError(t, s.ReplaceCorrelations(ctx, "inv", []domain.Correlation{
		{ID: "c1", InvestigationID: "inv", EventID: "e1", ItemID: "i1", Strength: 0.5},
	}))

	require.NoError(t, s.DeleteInvestigation(ctx, "inv"))

	_, err := s.GetInvestigation(ctx, "inv")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	// recreating starts empty
	require.NoError(t, s.CreateInvestigation(ctx, Investigation("inv")))
	stats, err := s.Statistics(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, storage.Statistics{InvestigationID: "inv"}, *stats)
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const missing = domain.InvestigationID("missing")

	checks := map[string]error{
		"get":          second(s.GetInvestigation(ctx, missing)),
		"delete":       s.DeleteInvestigation(ctx, missing),
		"save events":  s.SaveEvents(ctx, missing, []domain.ForensicEvent{{ID: "e"}}),
		"list events":  second(s.ListEvents(ctx, missing, storage.EventFilter{})),
		"save items":   s.SaveItems(ctx, missing, []domain.OSINTItem{{ID: "i"}}),
		"list items":   second(s.ListItems(ctx, missing, storage.ItemFilter{})),
		"replace":      s.ReplaceCorrelations(ctx, missing, nil),
		"correlations": second(s.ListCorrelations(ctx, missing, 0, 0)),
		"statistics":   second(s.Statistics(ctx, missing)),
	}
	for name, err := range checks {
		assert.True(t, errors.Is(err, storage.ErrNotFound), "%s: got %v", name, err)
	}
}

func second[T any](_ T, err error) error {
	return err
}

func eventIDs(events []domain.ForensicEvent) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
