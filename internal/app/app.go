// Package app builds the long-running sift runtime from configuration:
// telemetry, storage, the correlation engine and the optional Neo4j, NATS
// and narrative backends.
package app

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/health"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/narrative"
	"github.com/yairfalse/sift/pkg/intelligence/nats"
	"github.com/yairfalse/sift/pkg/intelligence/service"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
	"github.com/yairfalse/sift/pkg/intelligence/storage/neo4j"
	"github.com/yairfalse/sift/pkg/intelligence/storage/sqlstore"
	"github.com/yairfalse/sift/pkg/shutdown"
	"github.com/yairfalse/sift/pkg/telemetry"
	"github.com/yairfalse/sift/pkg/version"
)

const shutdownTimeout = 30 * time.Second

// App is a wired runtime. Close releases everything New opened.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Provider
	Store     storage.Store
	Engine    *correlation.Engine
	Narrator  *narrative.Client // nil unless narrative.enabled
	Service   *service.Service
	Health    *health.Registry

	nc       *natsgo.Conn
	shutdown *shutdown.Handler
}

// New opens every configured backend. On error, whatever was already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Health:   health.NewRegistry(cfg.API.HealthTimeout),
		shutdown: shutdown.NewHandler(logger, shutdownTimeout),
	}
	defer func() {
		if err != nil {
			_ = a.shutdown.Shutdown()
		}
	}()

	a.Telemetry, err = telemetry.NewProvider(ctx, cfg.Telemetry, version.Get().Version, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.shutdown.Register("telemetry", a.Telemetry.Shutdown)

	a.Store, err = OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.shutdown.RegisterCloser("store", a.Store)
	if sqlStore, ok := a.Store.(*sqlstore.Store); ok {
		a.Health.Register(health.NewDatabaseChecker("storage", sqlStore.DB()), true)
	}

	if cfg.Narrative.Enabled {
		a.Narrator, err = NewNarrator(cfg.Narrative, logger)
		if err != nil {
			return nil, err
		}
		a.Health.Register(health.NewPingChecker("narrative", a.Narrator.Ping), false)
	}

	a.Engine, err = NewEngine(cfg, logger, a.Narrator)
	if err != nil {
		return nil, err
	}
	if err := a.Engine.SetTelemetry(a.Telemetry.MeterProvider(), a.Telemetry.TracerProvider()); err != nil {
		return nil, err
	}

	opts := []service.Option{}
	if a.Narrator != nil {
		opts = append(opts, service.WithSummarizer(a.Narrator))
	}

	if cfg.Neo4j.Enabled {
		graph, err := a.openGraph(ctx, cfg.Neo4j)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithGraph(graph))
	}

	if cfg.NATS.Enabled {
		a.nc, err = nats.Connect(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		a.shutdown.Register("nats", func(context.Context) error { return a.nc.Drain() })
		a.Health.Register(health.NewPingChecker("nats", a.natsStatus), true)

		publisher, err := nats.NewPublisher(logger, a.nc, cfg.NATS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithPublisher(publisher))
	}

	a.Service, err = service.NewService(logger, a.Store, a.Engine, opts...)
	if err != nil {
		return nil, err
	}

	logger.Info("Runtime ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("neo4j", cfg.Neo4j.Enabled),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("narrative", cfg.Narrative.Enabled),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)
	return a, nil
}

func (a *App) openGraph(ctx context.Context, cfg config.Neo4jConfig) (*neo4j.GraphStore, error) {
	ncfg := neo4j.DefaultConfig()
	ncfg.URI = cfg.URI
	ncfg.Username = cfg.Username
	ncfg.Password = cfg.Password
	ncfg.Database = cfg.Database

	client, err := neo4j.NewClient(ctx, ncfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.shutdown.Register("neo4j", client.Close)
	a.Health.Register(health.NewPingChecker("neo4j", client.Health), true)

	graph, err := neo4j.NewGraphStore(client, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := graph.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return graph, nil
}

func (a *App) natsStatus(context.Context) error {
	if status := a.nc.Status(); status != natsgo.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return nil
}

// Subscriber consumes run requests and correlates the named investigation
func (a *App) Subscriber() (*nats.Subscriber, error) {
	if a.nc == nil {
		return nil, fmt.Errorf("nats is not enabled")
	}
	handler := nats.RunHandlerFunc(func(ctx context.Context, req nats.RunRequest) error {
		result, err := a.Service.Correlate(ctx, req.InvestigationID)
		if err != nil {
			return err
		}
		a.Logger.Info("Correlation run requested over NATS finished",
			zap.String("investigation_id", string(req.InvestigationID)),
			zap.String("run_id", result.RunID),
			zap.Int("correlations", len(result.Correlations)),
		)
		return nil
	})
	return nats.NewSubscriber(a.Logger, a.nc, a.Config.NATS, handler)
}

// Register adds a cleanup that runs before the backends are closed
func (a *App) Register(name string, fn func(context.Context) error) {
	a.shutdown.Register(name, fn)
}

// Close releases every backend, newest first
func (a *App) Close() error {
	return a.shutdown.Shutdown()
}

// OpenStore opens the configured storage backend
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStorage(logger, storage.DefaultMemoryStorageConfig()), nil
	case "sqlite":
		return sqlstore.Open(ctx, logger, sqlstore.SQLite, cfg.DSN)
	case "postgres":
		return sqlstore.Open(ctx, logger, sqlstore.Postgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewNarrator creates the Ollama client
func NewNarrator(cfg config.NarrativeConfig, logger *zap.Logger) (*narrative.Client, error) {
	return narrative.New(narrative.Config{
		Host:        cfg.Host,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, narrative.WithLogger(logger))
}

// NewEngine creates the engine from the correlation and narrative sections.
// narrator may be nil when narrative.enabled is false.
func NewEngine(cfg *config.Config, logger *zap.Logger, narrator *narrative.Client) (*correlation.Engine, error) {
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	if narrator == nil {
		return correlation.NewEngine(logger, ecfg, nil)
	}
	return correlation.NewEngine(logger, ecfg, narrator)
}
