package storage

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// CompareTimestamps orders dated before undated, then chronologically
func CompareTimestamps(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// SortEvents orders events by timestamp then ID
func SortEvents(events []domain.ForensicEvent) {
	slices.SortFunc(events, func(a, b domain.ForensicEvent) int {
		return cmp.Or(CompareTimestamps(a.Timestamp, b.Timestamp), cmp.Compare(a.ID, b.ID))
	})
}

// SortItems orders items by timestamp then ID
func SortItems(items []domain.OSINTItem) {
	slices.SortFunc(items, func(a, b domain.OSINTItem) int {
		return cmp.Or(CompareTimestamps(a.Timestamp, b.Timestamp), cmp.Compare(a.ID, b.ID))
	})
}

func firstN[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
