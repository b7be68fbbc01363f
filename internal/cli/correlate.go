package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/sift/internal/app"
	"github.com/yairfalse/sift/internal/output"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/narrative"
)

const defaultInvestigation = "cli"

type correlateOptions struct {
	eventsFile    string
	itemsFile     string
	location      string
	investigation string
	output        string
	enhance       bool
	minStrength   float64
	pruning       string
}

func newCorrelateCommand(global *globalOptions) *cobra.Command {
	opts := &correlateOptions{}

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Correlate forensic events with OSINT items from files",
		Long: `Correlate reads forensic events and OSINT items from JSON or YAML files,
scores every pair and prints the correlations at or above the strength
threshold, strongest first.

Records without an investigation_id are assigned to --investigation.
Events without a location use --location, or correlation.default_location.`,
		Example: `  # Human readable ranking
  sift correlate --events events.json --items osint.json

  # Score distance against the investigation site and emit JSON
  sift correlate --events events.json --items osint.yaml --location 40.7128,-74.0060 -o json

  # Ask the configured Ollama model to explain the strongest pairs
  sift correlate --events events.json --items osint.json --enhance`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrelate(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.eventsFile, "events", "", "forensic events file (JSON or YAML array, - for stdin)")
	cmd.Flags().StringVar(&opts.itemsFile, "items", "", "OSINT items file (JSON or YAML array, - for stdin)")
	cmd.Flags().StringVar(&opts.location, "location", "", "investigation location as lat,lon")
	cmd.Flags().StringVar(&opts.investigation, "investigation", defaultInvestigation, "investigation ID for records without one")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "human", "output format (human, json, yaml)")
	cmd.Flags().BoolVar(&opts.enhance, "enhance", false, "add LLM narratives to the strongest correlations")
	cmd.Flags().Float64Var(&opts.minStrength, "min-strength", -1, "override correlation.min_strength")
	cmd.Flags().StringVar(&opts.pruning, "pruning", "", "override correlation.pruning (auto, off, temporal; temporal is lossy when spatial+content weight can reach the threshold)")
	_ = cmd.MarkFlagRequired("events")
	_ = cmd.MarkFlagRequired("items")

	return cmd
}

func runCorrelate(cmd *cobra.Command, global *globalOptions, opts *correlateOptions) error {
	if opts.eventsFile == "-" && opts.itemsFile == "-" {
		return fmt.Errorf("only one of --events and --items can read stdin")
	}
	format, err := output.ParseFormat(opts.output)
	if err != nil {
		return err
	}

	cfg, err := global.load()
	if err != nil {
		return err
	}
	if opts.enhance {
		cfg.Narrative.Enabled = true
	}
	if opts.minStrength >= 0 {
		cfg.Correlation.MinStrength = opts.minStrength
	}
	if opts.pruning != "" {
		cfg.Correlation.Pruning = opts.pruning
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Sync()

	locationSpec := opts.location
	if locationSpec == "" {
		locationSpec = cfg.Correlation.DefaultLocation
	}
	var location *domain.Coordinate
	if locationSpec != "" {
		loc, err := domain.ParseCoordinate(locationSpec)
		if err != nil {
			return fmt.Errorf("invalid location: %w", err)
		}
		location = &loc
	}

	var events []domain.ForensicEvent
	if err := readRecords(cmd.InOrStdin(), opts.eventsFile, &events); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	var items []domain.OSINTItem
	if err := readRecords(cmd.InOrStdin(), opts.itemsFile, &items); err != nil {
		return fmt.Errorf("read items: %w", err)
	}
	in := buildRunInput(events, items, domain.InvestigationID(opts.investigation), location)

	var narrator *narrative.Client
	if cfg.Narrative.Enabled {
		narrator, err = app.NewNarrator(cfg.Narrative, logger)
		if err != nil {
			return err
		}
		if _, err := narrator.ResolveModel(cmd.Context()); err != nil {
			return fmt.Errorf("narrative model unavailable: %w", err)
		}
	}
	engine, err := app.NewEngine(cfg, logger, narrator)
	if err != nil {
		return err
	}

	result, err := engine.Run(cmd.Context(), in)
	if err != nil {
		return err
	}
	logger.Debug("Correlation finished",
		zap.String("run_id", result.RunID),
		zap.Int("correlations", len(result.Correlations)),
		zap.Duration("duration", result.Summary.Duration),
	)

	return output.NewFormatter(format, cmd.OutOrStdout()).PrintRun(output.NewRunOutput(result))
}

// buildRunInput assigns orphan records to the fallback investigation and
// uses location for every investigation present in the events.
func buildRunInput(events []domain.ForensicEvent, items []domain.OSINTItem, fallback domain.InvestigationID, location *domain.Coordinate) correlation.RunInput {
	in := correlation.RunInput{Events: events, Items: items}
	for i := range in.Events {
		if in.Events[i].InvestigationID == "" {
			in.Events[i].InvestigationID = fallback
		}
	}
	for i := range in.Items {
		if in.Items[i].InvestigationID == "" {
			in.Items[i].InvestigationID = fallback
		}
	}
	if location != nil {
		in.DefaultLocations = map[domain.InvestigationID]domain.Coordinate{}
		for _, ev := range in.Events {
			in.DefaultLocations[ev.InvestigationID] = *location
		}
	}
	return in
}

// readRecords decodes a JSON or YAML array. The format follows the file
// extension; stdin and unknown extensions are sniffed.
func readRecords(stdin io.Reader, path string, dst any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return decodeJSONRecords(data, dst)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, dst)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeJSONRecords(data, dst)
	}
	return yaml.Unmarshal(data, dst)
}

func decodeJSONRecords(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
