package correlation

import (
	"cmp"
	"slices"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

const timelineItemsPerEvent = 3

// TimelineKind tells forensic and OSINT entries apart
type TimelineKind string

const (
	TimelineForensic TimelineKind = "forensic"
	TimelineOSINT    TimelineKind = "osint"
)

// TimelineEntry is one point on the merged investigation timeline
type TimelineEntry struct {
	Timestamp  *time.Time   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Kind       TimelineKind `json:"kind" yaml:"kind"`
	ID         string       `json:"id" yaml:"id"`
	Title      string       `json:"title" yaml:"title"`
	Detail     string       `json:"detail,omitempty" yaml:"detail,omitempty"`
	Strength   float64      `json:"strength" yaml:"strength"`
	RelatedIDs []string     `json:"related_ids" yaml:"related_ids"`
}

// BuildTimeline merges correlated events with up to three of their best
// items into one chronological list. Undated entries go last.
func BuildTimeline(correlations []domain.Correlation, events []domain.ForensicEvent, items []domain.OSINTItem) []TimelineEntry {
	eventsByID, itemsByID := indexRecords(events, items)

	var entries []TimelineEntry
	eventEntry := make(map[string]int)
	itemEntry := make(map[string]int)
	perEvent := make(map[string]int)

	// correlations arrive ranked, so the first items seen per event are its best
	for i := range correlations {
		c := &correlations[i]
		ev, it := eventsByID[c.EventID], itemsByID[c.ItemID]
		if ev == nil || it == nil {
			continue
		}

		ei, ok := eventEntry[ev.ID]
		if !ok {
			ei = len(entries)
			eventEntry[ev.ID] = ei
			entries = append(entries, TimelineEntry{
				Timestamp: ev.Timestamp,
				Kind:      TimelineForensic,
				ID:        ev.ID,
				Title:     string(ev.Type) + " " + ev.FilePath,
				Detail:    ev.Description,
				Strength:  c.Strength,
			})
		}

		if perEvent[ev.ID] >= timelineItemsPerEvent {
			continue
		}
		perEvent[ev.ID]++
		entries[ei].RelatedIDs = append(entries[ei].RelatedIDs, it.ID)

		ii, ok := itemEntry[it.ID]
		if !ok {
			ii = len(entries)
			itemEntry[it.ID] = ii
			title := it.Title
			if title == "" {
				title = truncateRunes(it.Content, 80)
			}
			entries = append(entries, TimelineEntry{
				Timestamp: it.Timestamp,
				Kind:      TimelineOSINT,
				ID:        it.ID,
				Title:     title,
				Detail:    string(it.Source),
				Strength:  c.Strength,
			})
		}
		entries[ii].RelatedIDs = append(entries[ii].RelatedIDs, ev.ID)
		entries[ii].Strength = max(entries[ii].Strength, c.Strength)
	}

	slices.SortStableFunc(entries, func(a, b TimelineEntry) int {
		switch {
		case a.Timestamp != nil && b.Timestamp != nil:
			if c := a.Timestamp.Compare(*b.Timestamp); c != 0 {
				return c
			}
		case a.Timestamp != nil:
			return -1
		case b.Timestamp != nil:
			return 1
		}
		if a.Kind != b.Kind {
			if a.Kind == TimelineForensic {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return entries
}
