package correlation

import (
	"math"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distances
const EarthRadiusKM = 6371.0

// DecayFunc maps a non-negative distance (seconds or kilometres) onto [0,1].
// Implementations must return 1 at zero and fall monotonically to 0 at window.
type DecayFunc func(x, window float64) float64

// LinearDecay is max(0, 1 - x/window)
func LinearDecay(x, window float64) float64 {
	if window <= 0 {
		return 0
	}
	x = math.Abs(x)
	return math.Max(0, 1-x/window)
}

// TimeDelta returns b - a when both instants are known
func TimeDelta(a, b *time.Time) (time.Duration, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return b.Sub(*a), true
}

// TemporalScore scores proximity in time. Missing timestamps are not applicable.
func TemporalScore(a, b *time.Time, window time.Duration, decay DecayFunc) domain.Score {
	delta, ok := TimeDelta(a, b)
	if !ok {
		return domain.NotApplicable()
	}
	return domain.Applicable(clamp01(decay(math.Abs(delta.Seconds()), window.Seconds())))
}

// HaversineKM is the great-circle distance between two coordinates
func HaversineKM(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
}

// SpatialScore scores geographic proximity. Missing coordinates are not applicable.
func SpatialScore(a, b *domain.Coordinate, maxKM float64, decay DecayFunc) domain.Score {
	if a == nil || b == nil {
		return domain.NotApplicable()
	}
	return domain.Applicable(clamp01(decay(HaversineKM(*a, *b), maxKM)))
}

// ContentScore scores textual similarity. Empty text is a real signal and scores 0.
func ContentScore(a, b string, sim TextSimilarity) domain.Score {
	if a == "" || b == "" {
		return domain.Applicable(0)
	}
	return domain.Applicable(clamp01(sim.Similarity(a, b)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
