package output

import (
	"time"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

// CorrelationView is a correlation joined with the records it links
type CorrelationView struct {
	ID         string            `json:"id" yaml:"id"`
	Strength   float64           `json:"strength" yaml:"strength"`
	Confidence domain.Confidence `json:"confidence" yaml:"confidence"`
	Temporal   domain.Score      `json:"temporal_score" yaml:"temporal_score"`
	Spatial    domain.Score      `json:"spatial_score" yaml:"spatial_score"`
	Content    domain.Score      `json:"content_score" yaml:"content_score"`
	TimeDelta  *time.Duration    `json:"time_delta,omitempty" yaml:"time_delta,omitempty"`
	DistanceKM *float64          `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	Narrative  *string           `json:"narrative,omitempty" yaml:"narrative,omitempty"`

	EventID        string           `json:"event_id" yaml:"event_id"`
	FilePath       string           `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	EventType      domain.EventType `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	EventTimestamp *time.Time       `json:"event_timestamp,omitempty" yaml:"event_timestamp,omitempty"`

	ItemID    string             `json:"item_id" yaml:"item_id"`
	Source    domain.OSINTSource `json:"source,omitempty" yaml:"source,omitempty"`
	Title     string             `json:"title,omitempty" yaml:"title,omitempty"`
	URL       string             `json:"url,omitempty" yaml:"url,omitempty"`
	ItemStamp *time.Time         `json:"item_timestamp,omitempty" yaml:"item_timestamp,omitempty"`
}

// NewRunOutput joins a run's correlations with its events and items
func NewRunOutput(result *correlation.Result) *RunOutput {
	events := make(map[string]*domain.ForensicEvent, len(result.Events))
	for i := range result.Events {
		events[result.Events[i].ID] = &result.Events[i]
	}
	items := make(map[string]*domain.OSINTItem, len(result.Items))
	for i := range result.Items {
		items[result.Items[i].ID] = &result.Items[i]
	}

	views := make([]CorrelationView, 0, len(result.Correlations))
	for i := range result.Correlations {
		c := &result.Correlations[i]
		v := CorrelationView{
			ID:         c.ID,
			Strength:   c.Strength,
			Confidence: domain.ConfidenceOf(c.Strength),
			Temporal:   c.Temporal,
			Spatial:    c.Spatial,
			Content:    c.Content,
			TimeDelta:  c.TimeDelta,
			DistanceKM: c.DistanceKM,
			Narrative:  c.Narrative,
			EventID:    c.EventID,
			ItemID:     c.ItemID,
		}
		if ev := events[c.EventID]; ev != nil {
			v.FilePath, v.EventType, v.EventTimestamp = ev.FilePath, ev.Type, ev.Timestamp
		}
		if it := items[c.ItemID]; it != nil {
			v.Source, v.Title, v.URL, v.ItemStamp = it.Source, it.Title, it.URL, it.Timestamp
		}
		views = append(views, v)
	}

	return &RunOutput{
		RunID:        result.RunID,
		Summary:      result.Summary,
		Report:       correlation.BuildReport(result.Correlations, result.Events, result.Items),
		Correlations: views,
	}
}
