package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
)

const humanMaxRows = 20

// HumanFormatter prints colored, aligned text
type HumanFormatter struct {
	w       io.Writer
	maxRows int
}

// NewHumanFormatter creates a human formatter writing to w
func NewHumanFormatter(w io.Writer) *HumanFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &HumanFormatter{w: w, maxRows: humanMaxRows}
}

// PrintRun prints a summary, the confidence breakdown and the strongest correlations
func (f *HumanFormatter) PrintRun(run *RunOutput) error {
	f.printSummary(run)
	f.printSkipped(run)
	f.printCorrelations(run.Correlations)
	return nil
}

func (f *HumanFormatter) printSummary(run *RunOutput) {
	s := run.Summary
	fmt.Fprintf(f.w, "%s run %s\n", Colors.Heading("Correlation"), Colors.Muted(run.RunID))
	fmt.Fprintf(f.w, "  %d events × %d items, %d candidates scored, %d pruned (%s pruning), %s\n",
		s.Events, s.Items, s.CandidatesGenerated, s.CandidatesPruned, s.Pruning, s.Duration.Round(time.Millisecond))

	if len(run.Correlations) == 0 {
		fmt.Fprintf(f.w, "%s No correlations at or above the threshold\n", Colors.Warning(Icons.Warning))
		return
	}

	fmt.Fprintf(f.w, "%s %d correlations", Colors.Success(Icons.Success), len(run.Correlations))
	if r := run.Report; r != nil {
		fmt.Fprintf(f.w, " (avg strength %.2f: %s high, %s medium, %s low)",
			r.AverageStrength,
			confidenceColor(domain.ConfidenceHigh)(r.Confidence.High),
			confidenceColor(domain.ConfidenceMedium)(r.Confidence.Medium),
			confidenceColor(domain.ConfidenceLow)(r.Confidence.Low))
	}
	fmt.Fprintln(f.w)

	if s.EnhancementAttempts > 0 {
		fmt.Fprintf(f.w, "%s %d narratives requested, %d failed\n",
			Colors.Info(Icons.Info), s.EnhancementAttempts, s.EnhancementFailures)
	}
}

func (f *HumanFormatter) printSkipped(run *RunOutput) {
	skipped := run.Summary.Skipped
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(f.w, "%s skipped %d invalid records\n", Colors.Warning(Icons.Warning), len(skipped))
	for _, r := range skipped {
		fmt.Fprintf(f.w, "   %s %s: %s\n", r.Kind, r.ID, r.Reason)
	}
}

func (f *HumanFormatter) printCorrelations(views []CorrelationView) {
	if len(views) == 0 {
		return
	}
	fmt.Fprintln(f.w)
	fmt.Fprintln(f.w, Colors.Heading("Strongest correlations"))
	fmt.Fprintln(f.w, Colors.Muted(strings.Repeat(Icons.Separator, 60)))

	shown := views
	if f.maxRows > 0 && len(shown) > f.maxRows {
		shown = shown[:f.maxRows]
	}
	for i := range shown {
		f.printCorrelation(i+1, &shown[i])
	}
	if len(shown) < len(views) {
		fmt.Fprintf(f.w, "%s\n", Colors.Muted(fmt.Sprintf("... %d more, use --output json for the full list", len(views)-len(shown))))
	}
}

func (f *HumanFormatter) printCorrelation(rank int, v *CorrelationView) {
	label := fmt.Sprintf("%.3f %-6s", v.Strength, strings.ToUpper(string(v.Confidence)))
	fmt.Fprintf(f.w, "%2d. %s %s %s %s\n", rank, confidenceColor(v.Confidence)(label),
		nonEmpty(v.FilePath, v.EventID), Colors.Muted(Icons.Link), nonEmpty(v.Title, v.ItemID))

	fmt.Fprintf(f.w, "    %s %s  %s  [%s]\n",
		v.EventType, formatTime(v.EventTimestamp), formatDelta(v.TimeDelta), v.Source)
	fmt.Fprintf(f.w, "    temporal %s  spatial %s  content %s", v.Temporal, v.Spatial, v.Content)
	if v.DistanceKM != nil {
		fmt.Fprintf(f.w, "  (%.1f km)", *v.DistanceKM)
	}
	fmt.Fprintln(f.w)
	if v.URL != "" {
		fmt.Fprintf(f.w, "    %s\n", Colors.Info(v.URL))
	}
	if v.Narrative != nil {
		fmt.Fprintf(f.w, "    %s %s\n", Colors.Info(Icons.Info), *v.Narrative)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "undated"
	}
	return t.UTC().Format("2006-01-02 15:04:05Z")
}

// formatDelta renders the item time relative to the event
func formatDelta(d *time.Duration) string {
	if d == nil {
		return "Δ n/a"
	}
	if *d < 0 {
		return "item " + (-*d).Round(time.Second).String() + " before"
	}
	return "item " + d.Round(time.Second).String() + " after"
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
