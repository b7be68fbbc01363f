// Package cli implements the sift command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/logging"
)

type globalOptions struct {
	configFile string
	verbose    bool
}

// NewRootCommand builds the sift command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "sift",
		Short: "Correlate forensic filesystem events with open-source intelligence",
		Long: `Sift scores every forensic event of an investigation against collected
OSINT items on time, place and content, keeps the pairs above a strength
threshold and ranks them strongest first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is ./sift.yaml, $HOME/.sift/sift.yaml or /etc/sift/sift.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newCorrelateCommand(opts),
		newServeCommand(opts),
		newMCPCommand(opts),
		newMigrateCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads the configuration file, SIFT_* environment and defaults.
// --verbose forces debug logging.
func (o *globalOptions) load() (*config.Config, error) {
	loader := config.NewLoader()
	if o.configFile != "" {
		loader = loader.WithConfigFile(o.configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: w,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}
