package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Client provides Neo4j operations for the correlation graph
type Client struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
	config Config
}

// Config holds Neo4j connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string

	// Connection pool settings
	MaxConnectionPoolSize int
	MaxConnectionLifetime time.Duration
	ConnectionTimeout     time.Duration
}

// DefaultConfig returns default Neo4j configuration
func DefaultConfig() Config {
	return Config{
		URI:                   "bolt://localhost:7687",
		Username:              "neo4j",
		Database:              "neo4j",
		MaxConnectionPoolSize: 20,
		MaxConnectionLifetime: 30 * time.Minute,
		ConnectionTimeout:     30 * time.Second,
	}
}

// NewClient creates a client and verifies the server is reachable
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("neo4j URI is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	defaults := DefaultConfig()
	if config.MaxConnectionPoolSize <= 0 {
		config.MaxConnectionPoolSize = defaults.MaxConnectionPoolSize
	}
	if config.MaxConnectionLifetime <= 0 {
		config.MaxConnectionLifetime = defaults.MaxConnectionLifetime
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = defaults.ConnectionTimeout
	}

	driver, err := neo4j.NewDriverWithContext(
		config.URI,
		neo4j.BasicAuth(config.Username, config.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = config.MaxConnectionPoolSize
			c.MaxConnectionLifetime = config.MaxConnectionLifetime
			c.ConnectionAcquisitionTimeout = config.ConnectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	client := &Client{
		driver: driver,
		logger: logger,
		config: config,
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	logger.Info("Neo4j client initialized",
		zap.String("uri", config.URI),
		zap.String("database", config.Database))

	return client, nil
}

// Close closes the Neo4j driver
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
		AccessMode:   mode,
	})
}

// Write runs every statement in one managed write transaction
func (c *Client) Write(ctx context.Context, statements []Statement) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range statements {
			result, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", st.Name, err)
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, fmt.Errorf("%s: %w", st.Name, err)
			}
		}
		return nil, nil
	})
	return err
}

// Read runs one statement and returns every record as a map
func (c *Client) Read(ctx context.Context, st Statement) ([]map[string]any, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, st.Cypher, st.Params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, len(records))
		for i, r := range records {
			rows[i] = r.AsMap()
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", st.Name, err)
	}
	return out.([]map[string]any), nil
}

// Health runs a trivial query to verify database access
func (c *Client) Health(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connectivity check failed: %w", err)
	}
	rows, err := c.Read(ctx, Statement{Name: "health", Cypher: "RETURN 1 AS health"})
	if err != nil {
		return err
	}
	if len(rows) != 1 || rows[0]["health"] != int64(1) {
		return fmt.Errorf("unexpected health check result: %v", rows)
	}
	return nil
}
