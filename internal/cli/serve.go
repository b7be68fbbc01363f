package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/sift/internal/app"
	"github.com/yairfalse/sift/pkg/api"
	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/shutdown"
	"github.com/yairfalse/sift/pkg/version"
)

func newServeCommand(global *globalOptions) *cobra.Command {
	var (
		address   string
		subscribe bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the investigation HTTP API",
		Long: `Serve exposes investigations, evidence upload, correlation runs and
their reports over a JSON HTTP API, with Prometheus metrics at /metrics.

When nats.enabled is set, finished runs are published to JetStream and,
unless --subscribe=false, run requests on the runs subject are consumed.`,
		Example: `  sift serve
  sift serve --address :9090 --config /etc/sift/sift.yaml
  SIFT_STORAGE_DRIVER=memory sift serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.API.Address = address
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := shutdown.Context(cmd.Context())
			defer stop()
			return runServe(ctx, cfg, logger, subscribe)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides api.address)")
	cmd.Flags().BoolVar(&subscribe, "subscribe", true, "consume NATS run requests when nats.enabled is set")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, subscribe bool) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.NewServer(a.Service, api.NewMetrics(), logger, apiConfig(cfg.API), api.WithHealth(a.Health))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	if cfg.NATS.Enabled && subscribe {
		sub, err := a.Subscriber()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sub.Start(ctx)
		})
	}
	return g.Wait()
}

func apiConfig(c config.APIConfig) api.Config {
	return api.Config{
		Address:         c.Address,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
		MaxBodyBytes:    c.MaxBodyBytes,
		AllowedOrigins:  c.CORSOrigins,
		Version:         version.Get().Version,
	}
}
