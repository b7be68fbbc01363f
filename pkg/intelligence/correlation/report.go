package correlation

import (
	"time"
	"unicode/utf8"

	"github.com/yairfalse/sift/pkg/domain"
)

const (
	reportTopN        = 10
	reportExcerptRune = 200
)

// ConfidenceBreakdown counts correlations per confidence bucket
type ConfidenceBreakdown struct {
	High   int `json:"high" yaml:"high"`
	Medium int `json:"medium" yaml:"medium"`
	Low    int `json:"low" yaml:"low"`
}

// ReportEntry is one row of the top correlations table
type ReportEntry struct {
	CorrelationID  string             `json:"correlation_id" yaml:"correlation_id"`
	EventID        string             `json:"event_id" yaml:"event_id"`
	FilePath       string             `json:"file_path" yaml:"file_path"`
	EventType      domain.EventType   `json:"event_type" yaml:"event_type"`
	EventTimestamp *time.Time         `json:"event_timestamp,omitempty" yaml:"event_timestamp,omitempty"`
	ItemID         string             `json:"item_id" yaml:"item_id"`
	Source         domain.OSINTSource `json:"source" yaml:"source"`
	Title          string             `json:"title,omitempty" yaml:"title,omitempty"`
	Excerpt        string             `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	URL            string             `json:"url,omitempty" yaml:"url,omitempty"`
	Strength       float64            `json:"strength" yaml:"strength"`
	Confidence     domain.Confidence  `json:"confidence" yaml:"confidence"`
	Narrative      *string            `json:"narrative,omitempty" yaml:"narrative,omitempty"`
}

// Report summarises a ranked correlation list for investigators
type Report struct {
	TotalCorrelations  int                        `json:"total_correlations" yaml:"total_correlations"`
	AverageStrength    float64                    `json:"average_strength" yaml:"average_strength"`
	Confidence         ConfidenceBreakdown        `json:"confidence" yaml:"confidence"`
	SourceBreakdown    map[domain.OSINTSource]int `json:"source_breakdown" yaml:"source_breakdown"`
	EventTypeBreakdown map[domain.EventType]int   `json:"event_type_breakdown" yaml:"event_type_breakdown"`
	Narrated           int                        `json:"narrated" yaml:"narrated"`
	Top                []ReportEntry              `json:"top_correlations" yaml:"top_correlations"`
}

// BuildReport summarises ranked correlations. Correlations whose event or
// item is missing from the lookups still count but carry empty details.
func BuildReport(correlations []domain.Correlation, events []domain.ForensicEvent, items []domain.OSINTItem) *Report {
	eventsByID, itemsByID := indexRecords(events, items)

	report := &Report{
		TotalCorrelations:  len(correlations),
		SourceBreakdown:    make(map[domain.OSINTSource]int),
		EventTypeBreakdown: make(map[domain.EventType]int),
		Top:                make([]ReportEntry, 0, min(reportTopN, len(correlations))),
	}

	var sum float64
	for i := range correlations {
		c := &correlations[i]
		sum += c.Strength

		switch domain.ConfidenceOf(c.Strength) {
		case domain.ConfidenceHigh:
			report.Confidence.High++
		case domain.ConfidenceMedium:
			report.Confidence.Medium++
		default:
			report.Confidence.Low++
		}
		if c.Narrative != nil {
			report.Narrated++
		}

		ev := eventsByID[c.EventID]
		it := itemsByID[c.ItemID]
		if it != nil {
			report.SourceBreakdown[it.Source]++
		}
		if ev != nil {
			report.EventTypeBreakdown[ev.Type]++
		}

		if len(report.Top) < reportTopN {
			report.Top = append(report.Top, newReportEntry(c, ev, it))
		}
	}
	if len(correlations) > 0 {
		report.AverageStrength = sum / float64(len(correlations))
	}
	return report
}

func newReportEntry(c *domain.Correlation, ev *domain.ForensicEvent, it *domain.OSINTItem) ReportEntry {
	entry := ReportEntry{
		CorrelationID:  c.ID,
		EventID:        c.EventID,
		EventTimestamp: c.EventTimestamp,
		ItemID:         c.ItemID,
		Strength:       c.Strength,
		Confidence:     domain.ConfidenceOf(c.Strength),
		Narrative:      c.Narrative,
	}
	if ev != nil {
		entry.FilePath = ev.FilePath
		entry.EventType = ev.Type
	}
	if it != nil {
		entry.Source = it.Source
		entry.Title = it.Title
		entry.Excerpt = truncateRunes(it.Content, reportExcerptRune)
		entry.URL = it.URL
	}
	return entry
}

func indexRecords(events []domain.ForensicEvent, items []domain.OSINTItem) (map[string]*domain.ForensicEvent, map[string]*domain.OSINTItem) {
	eventsByID := make(map[string]*domain.ForensicEvent, len(events))
	for i := range events {
		eventsByID[events[i].ID] = &events[i]
	}
	itemsByID := make(map[string]*domain.OSINTItem, len(items))
	for i := range items {
		itemsByID[items[i].ID] = &items[i]
	}
	return eventsByID, itemsByID
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
