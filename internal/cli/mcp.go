package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sift/internal/app"
	"github.com/yairfalse/sift/internal/mcp"
	"github.com/yairfalse/sift/pkg/shutdown"
	"github.com/yairfalse/sift/pkg/version"
)

func newMCPCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve investigation tools over the Model Context Protocol (stdio)",
		Long: `MCP runs a Model Context Protocol server on stdin/stdout so an assistant
can create investigations, load events and OSINT items, run correlations and
read reports. Logs go to stderr.`,
		Example: `  # Register with an MCP client
  sift mcp --config ~/.sift/sift.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := shutdown.Context(cmd.Context())
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.NewServer(a.Service, logger, version.Get().Version).Run(ctx)
		},
	}
}
