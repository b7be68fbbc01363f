// Package narrative talks to an Ollama server to write investigator-facing
// explanations of correlations and whole investigations.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// Config holds the model settings
type Config struct {
	Host        string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns a local Ollama configuration
func DefaultConfig() Config {
	return Config{
		Host:        "http://localhost:11434",
		Model:       "gemma:4b",
		Timeout:     120 * time.Second,
		MaxTokens:   4096,
		Temperature: 0.3,
	}
}

// APIError is a non-2xx response from the server
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: ollama returned %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Client wraps the Ollama API client with model resolution and the
// prompts used by sift
type Client struct {
	api        *api.Client
	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	model string
}

// Option configures the Client during construction
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithLogger configures structured logging
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client. Per-call deadlines come from the caller's context;
// config.Timeout bounds requests made without one.
func New(config Config, opts ...Option) (*Client, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("narrative: host is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("narrative: model is required")
	}
	base, err := url.Parse(strings.TrimSuffix(config.Host, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("narrative: invalid host %q", config.Host)
	}
	defaults := DefaultConfig()
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	c := &Client{
		config: config,
		model:  config.Model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: config.Timeout}
	}
	c.api = api.NewClient(base, c.httpClient)
	return c, nil
}

// Model returns the model name requests are sent to
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// GenerateOptions overrides the configured sampling settings for one call
type GenerateOptions struct {
	MaxTokens   int
	Temperature *float64
}

// Generate sends a system prompt and a user prompt and returns the trimmed reply
func (c *Client) Generate(ctx context.Context, system, prompt string, opts GenerateOptions) (string, error) {
	options := map[string]any{
		"temperature": c.config.Temperature,
		"num_predict": c.config.MaxTokens,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}

	stream := false
	req := &api.ChatRequest{
		Model:   c.Model(),
		Stream:  &stream,
		Options: options,
	}
	if system != "" {
		req.Messages = append(req.Messages, api.Message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, api.Message{Role: "user", Content: prompt})

	var reply strings.Builder
	start := time.Now()
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	c.logger.Debug("Ollama chat finished",
		zap.String("model", req.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return "", apiError("chat", err)
	}
	return strings.TrimSpace(reply.String()), nil
}

// Models lists the models installed on the server
func (c *Client) Models(ctx context.Context) ([]string, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, apiError("list models", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ResolveModel checks the configured model is installed, switching to the
// exact installed tag when only the family matches ("gemma" -> "gemma:4b").
func (c *Client) ResolveModel(ctx context.Context) (string, error) {
	installed, err := c.Models(ctx)
	if err != nil {
		return "", err
	}
	want := c.Model()
	family, _, _ := strings.Cut(want, ":")
	for _, name := range installed {
		if name == want {
			return name, nil
		}
	}
	for _, name := range installed {
		if strings.HasPrefix(name, family) {
			c.mu.Lock()
			c.model = name
			c.mu.Unlock()
			c.logger.Info("Using installed model variant",
				zap.String("configured", want),
				zap.String("model", name))
			return name, nil
		}
	}
	return "", fmt.Errorf("model %q not installed; available: %s", want, strings.Join(installed, ", "))
}

// Ping reports whether the server answers
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return apiError("heartbeat", err)
	}
	return nil
}

// apiError maps server status errors to APIError and wraps everything else
func apiError(operation string, err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		msg := strings.TrimSpace(status.ErrorMessage)
		if msg == "" {
			msg = status.Status
		}
		return &APIError{Operation: operation, StatusCode: status.StatusCode, Message: msg}
	}
	return fmt.Errorf("%s: %w", operation, err)
}
