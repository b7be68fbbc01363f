package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

const correlationSystemPrompt = `You are an expert digital forensics analyst. You are given one forensic
filesystem event and one piece of open-source intelligence that an automated engine scored as related.
Explain in two to four sentences how they may be connected, citing the temporal, geographic and content
signals provided. Say plainly when the link is weak. Do not invent facts that are not in the input.`

const summarySystemPrompt = `You are an expert digital forensics report writer. Summarize investigation
findings in a professional, clear manner suitable for law enforcement or security professionals.
Focus on key correlations discovered, the timeline of events, geographic patterns, security implications
and recommended actions.`

const insightsSystemPrompt = `You are an expert digital forensics analyst. Analyze correlation patterns to identify:
- Investigation priorities and focus areas
- Potential security incidents or threats
- Timeline significance and event clustering
- Recommended follow-up actions
- Key findings and their implications

Provide actionable insights for investigators in a structured format.`

// ErrNoCorrelations is returned when there is nothing to analyze
var ErrNoCorrelations = errors.New("no correlations to analyze")

var _ correlation.Narrator = (*Client)(nil)

// Narrate explains one correlation. It satisfies correlation.Narrator.
func (c *Client) Narrate(ctx context.Context, req correlation.NarrativeRequest) (string, error) {
	return c.Generate(ctx, correlationSystemPrompt, CorrelationPrompt(req), GenerateOptions{MaxTokens: 512})
}

// CorrelationPrompt renders the user prompt for one correlation
func CorrelationPrompt(req correlation.NarrativeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forensic event:\n%s\n\n", req.EventSummary)
	fmt.Fprintf(&b, "OSINT item:\n%s\n\n", req.ItemSummary)
	fmt.Fprintf(&b, "Scores (0-1, n/a when data was missing):\n")
	fmt.Fprintf(&b, "- temporal: %s\n- spatial: %s\n- content: %s\n", req.Temporal, req.Spatial, req.Content)
	fmt.Fprintf(&b, "- overall strength: %.3f (%s confidence)\n\n", req.Strength, domain.ConfidenceOf(req.Strength))
	b.WriteString("Explain the connection:")
	return b.String()
}

// Summarize writes a narrative summary of an investigation report. notes is
// optional analyst context appended to the prompt.
func (c *Client) Summarize(ctx context.Context, inv *domain.Investigation, report *correlation.Report, notes string) (string, error) {
	temperature := 0.2
	text, err := c.Generate(ctx, summarySystemPrompt, SummaryPrompt(inv, report, notes), GenerateOptions{
		MaxTokens:   2048,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("summarize investigation: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("summarize investigation: empty response")
	}
	return text, nil
}

// SummaryPrompt renders the user prompt for an investigation summary
func SummaryPrompt(inv *domain.Investigation, report *correlation.Report, notes string) string {
	var b strings.Builder
	b.WriteString("Investigation summary:\n\n")
	if inv != nil {
		fmt.Fprintf(&b, "Case: %s", inv.Name)
		if inv.LocationName != "" {
			fmt.Fprintf(&b, " (%s)", inv.LocationName)
		}
		b.WriteString("\n")
		if inv.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", inv.Description)
		}
	}

	if report == nil || report.TotalCorrelations == 0 {
		b.WriteString("\nCorrelations: No correlations found\n")
	} else {
		fmt.Fprintf(&b, "\nCorrelations: Found %d correlations with an average strength of %.2f ",
			report.TotalCorrelations, report.AverageStrength)
		fmt.Fprintf(&b, "(%d high, %d medium, %d low confidence)\n",
			report.Confidence.High, report.Confidence.Medium, report.Confidence.Low)

		b.WriteString("\nStrongest correlations:\n")
		for i, e := range report.Top {
			ts := "unknown time"
			if e.EventTimestamp != nil {
				ts = e.EventTimestamp.UTC().Format("2006-01-02 15:04:05Z")
			}
			fmt.Fprintf(&b, "%d. %s %s at %s <-> [%s] %s (strength %.2f)\n",
				i+1, e.FilePath, e.EventType, ts, e.Source, firstNonEmpty(e.Title, e.Excerpt), e.Strength)
			if e.Narrative != nil {
				fmt.Fprintf(&b, "   analyst note: %s\n", *e.Narrative)
			}
		}
	}

	if notes = strings.TrimSpace(notes); notes != "" {
		fmt.Fprintf(&b, "\nAdditional context notes: %s\n", notes)
	}

	b.WriteString("\nGenerate a comprehensive investigation summary report:")
	return b.String()
}

// Insights asks for priorities, threats and follow-up actions across the
// strongest correlations of a report
func (c *Client) Insights(ctx context.Context, report *correlation.Report) (string, error) {
	if report == nil || report.TotalCorrelations == 0 {
		return "", ErrNoCorrelations
	}
	text, err := c.Generate(ctx, insightsSystemPrompt, InsightsPrompt(report), GenerateOptions{MaxTokens: 2048})
	if err != nil {
		return "", fmt.Errorf("analyze correlation patterns: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("analyze correlation patterns: empty response")
	}
	return text, nil
}

// InsightsPrompt renders the top correlations with the run totals
func InsightsPrompt(report *correlation.Report) string {
	var b strings.Builder
	b.WriteString("Analyze these forensic-OSINT correlations for patterns and insights:\n\n")
	b.WriteString("Correlations found:\n")
	for _, e := range report.Top {
		fmt.Fprintf(&b, "File: %s correlates with %s content (strength: %.2f)\n",
			firstNonEmpty(e.FilePath, "Unknown"), firstNonEmpty(string(e.Source), "Unknown"), e.Strength)
	}
	fmt.Fprintf(&b, "\nTotal correlations: %d\n", report.TotalCorrelations)
	fmt.Fprintf(&b, "Average strength: %.2f\n", report.AverageStrength)
	b.WriteString("\nProvide investigation insights and recommendations:")
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
