package correlation

import (
	"cmp"
	"slices"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

const (
	// DefaultClusterGap is the largest gap between events in one cluster
	DefaultClusterGap = 2 * time.Hour

	minClusterSize = 2
	topTermsLimit  = 5
)

// TimeCluster is a burst of correlated activity
type TimeCluster struct {
	Start           time.Time `json:"start" yaml:"start"`
	End             time.Time `json:"end" yaml:"end"`
	EventIDs        []string  `json:"event_ids" yaml:"event_ids"`
	Correlations    int       `json:"correlations" yaml:"correlations"`
	AverageStrength float64   `json:"average_strength" yaml:"average_strength"`
}

// GroupPattern aggregates correlations sharing one attribute
type GroupPattern struct {
	Key             string  `json:"key" yaml:"key"`
	Count           int     `json:"count" yaml:"count"`
	AverageStrength float64 `json:"average_strength" yaml:"average_strength"`
}

// TermCount is a frequent term in correlated OSINT text
type TermCount struct {
	Term  string `json:"term" yaml:"term"`
	Count int    `json:"count" yaml:"count"`
}

// Patterns groups correlated activity along time, event type, file
// extension and source vocabulary.
type Patterns struct {
	TimeClusters []TimeCluster                      `json:"time_clusters" yaml:"time_clusters"`
	EventTypes   []GroupPattern                     `json:"event_types" yaml:"event_types"`
	Extensions   []GroupPattern                     `json:"extensions" yaml:"extensions"`
	SourceTerms  map[domain.OSINTSource][]TermCount `json:"source_terms" yaml:"source_terms"`
}

// FindPatterns analyses a correlation list. gap <= 0 uses DefaultClusterGap.
func FindPatterns(correlations []domain.Correlation, events []domain.ForensicEvent, items []domain.OSINTItem, gap time.Duration) *Patterns {
	if gap <= 0 {
		gap = DefaultClusterGap
	}
	eventsByID, itemsByID := indexRecords(events, items)

	return &Patterns{
		TimeClusters: timeClusters(correlations, gap),
		EventTypes: groupBy(correlations, func(c *domain.Correlation) (string, bool) {
			ev := eventsByID[c.EventID]
			if ev == nil {
				return "", false
			}
			return string(ev.Type), true
		}),
		Extensions: groupBy(correlations, func(c *domain.Correlation) (string, bool) {
			ev := eventsByID[c.EventID]
			if ev == nil {
				return "", false
			}
			return ev.Extension(), true
		}),
		SourceTerms: sourceTerms(correlations, itemsByID),
	}
}

func timeClusters(correlations []domain.Correlation, gap time.Duration) []TimeCluster {
	dated := make([]*domain.Correlation, 0, len(correlations))
	for i := range correlations {
		if correlations[i].EventTimestamp != nil {
			dated = append(dated, &correlations[i])
		}
	}
	slices.SortStableFunc(dated, func(a, b *domain.Correlation) int {
		if c := a.EventTimestamp.Compare(*b.EventTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	clusters := make([]TimeCluster, 0)
	var current []*domain.Correlation
	emit := func() {
		if len(current) >= minClusterSize {
			clusters = append(clusters, newTimeCluster(current))
		}
		current = nil
	}
	for _, c := range dated {
		if len(current) > 0 && c.EventTimestamp.Sub(*current[len(current)-1].EventTimestamp) > gap {
			emit()
		}
		current = append(current, c)
	}
	emit()
	return clusters
}

func newTimeCluster(members []*domain.Correlation) TimeCluster {
	cluster := TimeCluster{
		Start:        *members[0].EventTimestamp,
		End:          *members[len(members)-1].EventTimestamp,
		Correlations: len(members),
	}
	seen := make(map[string]struct{})
	var sum float64
	for _, c := range members {
		sum += c.Strength
		if _, ok := seen[c.EventID]; !ok {
			seen[c.EventID] = struct{}{}
			cluster.EventIDs = append(cluster.EventIDs, c.EventID)
		}
	}
	cluster.AverageStrength = sum / float64(len(members))
	return cluster
}

func groupBy(correlations []domain.Correlation, key func(*domain.Correlation) (string, bool)) []GroupPattern {
	type acc struct {
		count int
		sum   float64
	}
	groups := make(map[string]*acc)
	for i := range correlations {
		k, ok := key(&correlations[i])
		if !ok {
			continue
		}
		a, ok := groups[k]
		if !ok {
			a = &acc{}
			groups[k] = a
		}
		a.count++
		a.sum += correlations[i].Strength
	}

	out := make([]GroupPattern, 0, len(groups))
	for k, a := range groups {
		out = append(out, GroupPattern{Key: k, Count: a.count, AverageStrength: a.sum / float64(a.count)})
	}
	slices.SortFunc(out, func(a, b GroupPattern) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func sourceTerms(correlations []domain.Correlation, itemsByID map[string]*domain.OSINTItem) map[domain.OSINTSource][]TermCount {
	counts := make(map[domain.OSINTSource]map[string]int)
	seenItems := make(map[string]struct{})
	for i := range correlations {
		it := itemsByID[correlations[i].ItemID]
		if it == nil {
			continue
		}
		if _, ok := seenItems[it.ID]; ok {
			continue
		}
		seenItems[it.ID] = struct{}{}
		if counts[it.Source] == nil {
			counts[it.Source] = make(map[string]int)
		}
		for _, tok := range Tokenize(it.Text()) {
			counts[it.Source][tok]++
		}
	}

	out := make(map[domain.OSINTSource][]TermCount, len(counts))
	for src, terms := range counts {
		list := make([]TermCount, 0, len(terms))
		for term, n := range terms {
			list = append(list, TermCount{Term: term, Count: n})
		}
		slices.SortFunc(list, func(a, b TermCount) int {
			if a.Count != b.Count {
				return cmp.Compare(b.Count, a.Count)
			}
			return cmp.Compare(a.Term, b.Term)
		})
		if len(list) > topTermsLimit {
			list = list[:topTermsLimit]
		}
		out[src] = list
	}
	return out
}
