// Package shutdown runs named cleanup functions in reverse registration order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// Handler manages graceful shutdown
type Handler struct {
	mu      sync.Mutex
	fns     []cleanup
	timeout time.Duration
	logger  *zap.Logger
	done    bool
}

// NewHandler creates a handler whose cleanups share one timeout
func NewHandler(logger *zap.Logger, timeout time.Duration) *Handler {
	return &Handler{
		timeout: timeout,
		logger:  logger.With(zap.String("component", "shutdown")),
	}
}

// Register adds a cleanup function. Later registrations run first.
func (h *Handler) Register(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, cleanup{name: name, fn: fn})
}

// RegisterCloser adds a cleanup for anything with a plain Close method
func (h *Handler) RegisterCloser(name string, closer interface{ Close() error }) {
	h.Register(name, func(context.Context) error { return closer.Close() })
}

// Shutdown runs every cleanup once, LIFO, and joins their errors. Cleanups
// still pending when the timeout expires are skipped and reported.
func (h *Handler) Shutdown() error {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return nil
	}
	h.done = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	start := time.Now()
	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		c := fns[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped, shutdown timeout exceeded", c.name))
			continue
		}

		began := time.Now()
		if err := c.fn(ctx); err != nil {
			h.logger.Warn("Cleanup failed",
				zap.String("name", c.name),
				zap.Duration("took", time.Since(began)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		h.logger.Debug("Cleaned up", zap.String("name", c.name), zap.Duration("took", time.Since(began)))
	}

	h.logger.Info("Shutdown completed",
		zap.Int("cleanups", len(fns)),
		zap.Int("errors", len(errs)),
		zap.Duration("took", time.Since(start)),
	)
	return errors.Join(errs...)
}

// Context returns a context cancelled on SIGINT or SIGTERM
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
