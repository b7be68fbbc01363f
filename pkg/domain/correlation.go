package domain

import (
	"time"

	"github.com/google/uuid"
)

// correlationNamespace seeds deterministic correlation ids
var correlationNamespace = uuid.MustParse("6f1c2a7e-3d4b-5e8f-9a0b-1c2d3e4f5a6b")

// CorrelationID derives a stable id for an (event, item) pair
func CorrelationID(eventID, itemID string) string {
	return uuid.NewSHA1(correlationNamespace, []byte(eventID+"|"+itemID)).String()
}

// Correlation is a scored relationship between one forensic event and one OSINT item
type Correlation struct {
	ID              string          `json:"id" yaml:"id"`
	InvestigationID InvestigationID `json:"investigation_id" yaml:"investigation_id"`
	EventID         string          `json:"event_id" yaml:"event_id"`
	ItemID          string          `json:"item_id" yaml:"item_id"`
	EventTimestamp  *time.Time      `json:"event_timestamp,omitempty" yaml:"event_timestamp,omitempty"`

	Temporal Score   `json:"temporal_score" yaml:"temporal_score"`
	Spatial  Score   `json:"spatial_score" yaml:"spatial_score"`
	Content  Score   `json:"content_score" yaml:"content_score"`
	Strength float64 `json:"strength" yaml:"strength"`

	TimeDelta  *time.Duration `json:"time_delta,omitempty" yaml:"time_delta,omitempty"`
	DistanceKM *float64       `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`

	Narrative *string `json:"narrative,omitempty" yaml:"narrative,omitempty"`
}

// HasNarrative reports whether an enhancer attached text
func (c *Correlation) HasNarrative() bool {
	return c.Narrative != nil
}

// Confidence buckets a strength the way reports present it
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceOf maps strength to a bucket: high above 0.7, medium above 0.4
func ConfidenceOf(strength float64) Confidence {
	switch {
	case strength > 0.7:
		return ConfidenceHigh
	case strength > 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
