package correlation

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

// PruningMode selects how candidate pairs are enumerated
type PruningMode string

const (
	// PruneAuto buckets by time only when that cannot drop a pair that would
	// pass the strength threshold, otherwise enumerates everything.
	PruneAuto PruningMode = "auto"
	// PruneOff enumerates every same-investigation pair.
	PruneOff PruningMode = "off"
	// PruneTemporal skips dated pairs at or beyond the time window.
	PruneTemporal PruningMode = "temporal"
)

// Valid reports whether m is a known mode
func (m PruningMode) Valid() bool {
	switch m {
	case PruneAuto, PruneOff, PruneTemporal:
		return true
	}
	return false
}

// ParsePruningMode parses a mode name
func ParsePruningMode(s string) (PruningMode, error) {
	m := PruningMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown pruning mode %q", s)
	}
	return m, nil
}

// ResolvePruning turns auto into a concrete mode for a scorer and threshold
func ResolvePruning(mode PruningMode, scorer *Scorer, minStrength float64) PruningMode {
	if mode != PruneAuto {
		return mode
	}
	if scorer.MaxStrengthWithoutTime() < minStrength {
		return PruneTemporal
	}
	return PruneOff
}

// Candidate is one (event, item) pair to score. Indexes refer to the slices
// passed to Candidates.
type Candidate struct {
	EventIndex int
	ItemIndex  int
}

// CandidateOptions configures Candidates. Mode must be resolved (not auto).
type CandidateOptions struct {
	Mode       PruningMode
	Window     time.Duration
	BucketSize time.Duration
}

type itemGroup struct {
	all     []int
	undated []int
	buckets map[int64][]int
}

// Candidates lazily yields same-investigation pairs in event order, then
// item order. Each iteration rebuilds its indexes so the sequence can be
// ranged over any number of times.
func Candidates(events []domain.ForensicEvent, items []domain.OSINTItem, opts CandidateOptions) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		pruning := opts.Mode == PruneTemporal && opts.Window > 0 && opts.BucketSize >= time.Second
		bucketSeconds := int64(opts.BucketSize / time.Second)
		groups := groupItems(items, pruning, bucketSeconds)

		var reach int64
		if pruning {
			// bucket keys use whole seconds, so allow one extra second of slack
			reach = int64((opts.Window+time.Second)/opts.BucketSize) + 1
		}

		scratch := make([]int, 0, 64)
		for ei := range events {
			ev := &events[ei]
			g, ok := groups[ev.InvestigationID]
			if !ok {
				continue
			}

			if !pruning || ev.Timestamp == nil {
				for _, ii := range g.all {
					if !yield(Candidate{EventIndex: ei, ItemIndex: ii}) {
						return
					}
				}
				continue
			}

			scratch = scratch[:0]
			scratch = append(scratch, g.undated...)
			eb := bucketOf(*ev.Timestamp, bucketSeconds)
			collect := func(bucket []int) {
				for _, ii := range bucket {
					if absDuration(items[ii].Timestamp.Sub(*ev.Timestamp)) < opts.Window {
						scratch = append(scratch, ii)
					}
				}
			}
			if 2*reach+1 > int64(len(g.buckets)) {
				// sparse timeline: walking occupied buckets is cheaper
				for b, bucket := range g.buckets {
					if b >= eb-reach && b <= eb+reach {
						collect(bucket)
					}
				}
			} else {
				for b := eb - reach; b <= eb+reach; b++ {
					collect(g.buckets[b])
				}
			}
			slices.Sort(scratch)
			for _, ii := range scratch {
				if !yield(Candidate{EventIndex: ei, ItemIndex: ii}) {
					return
				}
			}
		}
	}
}

// PairCount is the number of same-investigation pairs without pruning
func PairCount(events []domain.ForensicEvent, items []domain.OSINTItem) int64 {
	perInvestigation := make(map[domain.InvestigationID]int64)
	for i := range items {
		perInvestigation[items[i].InvestigationID]++
	}
	var total int64
	for i := range events {
		total += perInvestigation[events[i].InvestigationID]
	}
	return total
}

func groupItems(items []domain.OSINTItem, pruning bool, bucketSeconds int64) map[domain.InvestigationID]*itemGroup {
	groups := make(map[domain.InvestigationID]*itemGroup)
	for i := range items {
		it := &items[i]
		g, ok := groups[it.InvestigationID]
		if !ok {
			g = &itemGroup{buckets: make(map[int64][]int)}
			groups[it.InvestigationID] = g
		}
		g.all = append(g.all, i)
		if !pruning {
			continue
		}
		if it.Timestamp == nil {
			g.undated = append(g.undated, i)
			continue
		}
		b := bucketOf(*it.Timestamp, bucketSeconds)
		g.buckets[b] = append(g.buckets[b], i)
	}
	return groups
}

// bucketOf floors unix seconds into bucket numbers, rounding toward -inf
func bucketOf(t time.Time, bucketSeconds int64) int64 {
	s := t.Unix()
	b := s / bucketSeconds
	if s%bucketSeconds != 0 && s < 0 {
		b--
	}
	return b
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
