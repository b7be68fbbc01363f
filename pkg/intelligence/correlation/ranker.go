package correlation

import (
	"cmp"
	"slices"

	"github.com/yairfalse/sift/pkg/domain"
)

// RankStats counts what the ranker removed
type RankStats struct {
	BelowThreshold int `json:"below_threshold"`
	Duplicates     int `json:"duplicates"`
}

// Rank filters correlations below minStrength (equality passes), sorts them
// and keeps the first occurrence of each (event, item) pair. The input slice
// is reordered in place.
func Rank(scored []domain.Correlation, minStrength float64) ([]domain.Correlation, RankStats) {
	var stats RankStats

	kept := scored[:0]
	for _, c := range scored {
		if c.Strength < minStrength {
			stats.BelowThreshold++
			continue
		}
		kept = append(kept, c)
	}

	slices.SortStableFunc(kept, compareCorrelations)

	type pairKey struct{ event, item string }
	seen := make(map[pairKey]struct{}, len(kept))
	out := make([]domain.Correlation, 0, len(kept))
	for _, c := range kept {
		k := pairKey{c.EventID, c.ItemID}
		if _, dup := seen[k]; dup {
			stats.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out, stats
}

// compareCorrelations orders by strength desc, then most recent event first
// (dated before undated), then event and item id.
func compareCorrelations(a, b domain.Correlation) int {
	if a.Strength != b.Strength {
		if a.Strength > b.Strength {
			return -1
		}
		return 1
	}
	switch {
	case a.EventTimestamp != nil && b.EventTimestamp != nil:
		if c := b.EventTimestamp.Compare(*a.EventTimestamp); c != 0 {
			return c
		}
	case a.EventTimestamp != nil:
		return -1
	case b.EventTimestamp != nil:
		return 1
	}
	if c := cmp.Compare(a.EventID, b.EventID); c != 0 {
		return c
	}
	return cmp.Compare(a.ItemID, b.ItemID)
}
