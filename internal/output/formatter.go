// Package output renders correlation runs for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

// Format is an output encoding
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat normalizes a format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "human", "text", "":
		return FormatHuman, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (must be one of: human, json, yaml)", s)
	}
}

// RunOutput is everything printed for one correlation run
type RunOutput struct {
	RunID        string              `json:"run_id" yaml:"run_id"`
	Summary      correlation.Summary `json:"summary" yaml:"summary"`
	Report       *correlation.Report `json:"report" yaml:"report"`
	Correlations []CorrelationView   `json:"correlations" yaml:"correlations"`
}

// Formatter prints run results
type Formatter interface {
	PrintRun(run *RunOutput) error
}

// NewFormatter returns a formatter writing to w, or stdout when w is nil
func NewFormatter(format Format, w io.Writer) Formatter {
	if w == nil {
		w = os.Stdout
	}
	switch format {
	case FormatJSON:
		return &JSONFormatter{Writer: w, Indent: true}
	case FormatYAML:
		return &YAMLFormatter{Writer: w}
	default:
		return NewHumanFormatter(w)
	}
}

var (
	_ Formatter = (*HumanFormatter)(nil)
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
