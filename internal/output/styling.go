package output

import (
	"github.com/fatih/color"

	"github.com/yairfalse/sift/pkg/domain"
)

// Icons used in human output
var Icons = struct {
	Success   string
	Warning   string
	Info      string
	Link      string
	Separator string
}{
	Success:   "✓",
	Warning:   "⚠",
	Info:      "ℹ",
	Link:      "↔",
	Separator: "─",
}

// Colors used in human output
var Colors = struct {
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Info    func(a ...interface{}) string
	Muted   func(a ...interface{}) string
	Heading func(a ...interface{}) string
}{
	Success: color.New(color.FgGreen).SprintFunc(),
	Error:   color.New(color.FgRed).SprintFunc(),
	Warning: color.New(color.FgYellow).SprintFunc(),
	Info:    color.New(color.FgCyan).SprintFunc(),
	Muted:   color.New(color.FgHiBlack).SprintFunc(),
	Heading: color.New(color.FgWhite, color.Bold).SprintFunc(),
}

// confidenceColor picks the color for a confidence bucket
func confidenceColor(c domain.Confidence) func(a ...interface{}) string {
	switch c {
	case domain.ConfidenceHigh:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	case domain.ConfidenceMedium:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	default:
		return color.New(color.FgBlue).SprintFunc()
	}
}
