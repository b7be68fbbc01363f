package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Writer io.Writer
	Indent bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(w io.Writer, indent bool) *JSONFormatter {
	return &JSONFormatter{Writer: w, Indent: indent}
}

// PrintRun writes the run as a single JSON document
func (f *JSONFormatter) PrintRun(run *RunOutput) error {
	return f.Print(run)
}

// Print writes any value as JSON
func (f *JSONFormatter) Print(v any) error {
	encoder := json.NewEncoder(f.Writer)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct {
	Writer io.Writer
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(w io.Writer) *YAMLFormatter {
	return &YAMLFormatter{Writer: w}
}

// PrintRun writes the run as a single YAML document
func (f *YAMLFormatter) PrintRun(run *RunOutput) error {
	return f.Print(run)
}

// Print writes any value as YAML
func (f *YAMLFormatter) Print(v any) error {
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}
