package correlation

import (
	"fmt"
	"math"

	"github.com/yairfalse/sift/pkg/domain"
)

// Weights defines the maximum contribution of each dimension
type Weights struct {
	Temporal float64 `json:"temporal"`
	Spatial  float64 `json:"spatial"`
	Content  float64 `json:"content"`
}

// DefaultWeights returns the standard 0.4/0.3/0.3 split
func DefaultWeights() Weights {
	return Weights{
		Temporal: 0.4,
		Spatial:  0.3,
		Content:  0.3,
	}
}

// Validate rejects negative, non-finite or all-zero weights
func (w Weights) Validate() error {
	for _, f := range [...]struct {
		name  string
		value float64
	}{
		{"temporal", w.Temporal},
		{"spatial", w.Spatial},
		{"content", w.Content},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return ErrInvalidConfig("weights."+f.name, "must be finite")
		}
		if f.value < 0 {
			return ErrInvalidConfig("weights."+f.name, fmt.Sprintf("must not be negative, got %v", f.value))
		}
	}
	if w.Temporal+w.Spatial+w.Content == 0 {
		return ErrInvalidConfig("weights", "at least one weight must be positive")
	}
	return nil
}

// Sum is the total weight over all dimensions
func (w Weights) Sum() float64 {
	return w.Temporal + w.Spatial + w.Content
}

// Scorer combines per-dimension scores into one strength
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with validated weights
func NewScorer(weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights}, nil
}

// Weights returns the configured weights
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Combine is the weighted mean over applicable dimensions only. Dimensions
// without data drop out of both numerator and denominator.
func (s *Scorer) Combine(temporal, spatial, content domain.Score) float64 {
	var sum, total float64
	for _, d := range [...]struct {
		score  domain.Score
		weight float64
	}{
		{temporal, s.weights.Temporal},
		{spatial, s.weights.Spatial},
		{content, s.weights.Content},
	} {
		v, ok := d.score.Value()
		if !ok {
			continue
		}
		sum += d.weight * v
		total += d.weight
	}
	if total == 0 {
		return 0
	}
	return clamp01(sum / total)
}

// MaxStrengthWithoutTime is the best strength a pair can reach once its
// temporal score is known to be 0.
func (s *Scorer) MaxStrengthWithoutTime() float64 {
	total := s.weights.Sum()
	if total == 0 {
		return 0
	}
	return (s.weights.Spatial + s.weights.Content) / total
}
