package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// NarrativeRequest is what a narrator sees of one correlation
type NarrativeRequest struct {
	CorrelationID string       `json:"correlation_id"`
	EventSummary  string       `json:"event_summary"`
	ItemSummary   string       `json:"item_summary"`
	Temporal      domain.Score `json:"temporal_score"`
	Spatial       domain.Score `json:"spatial_score"`
	Content       domain.Score `json:"content_score"`
	Strength      float64      `json:"strength"`
}

// Narrator produces human-readable text for a correlation. It must honour
// ctx cancellation and deadlines.
type Narrator interface {
	Narrate(ctx context.Context, req NarrativeRequest) (string, error)
}

// NarratorFunc adapts a function to Narrator
type NarratorFunc func(ctx context.Context, req NarrativeRequest) (string, error)

// Narrate calls f
func (f NarratorFunc) Narrate(ctx context.Context, req NarrativeRequest) (string, error) {
	return f(ctx, req)
}

var errEmptyNarrative = errors.New("narrator returned empty text")

// EnhanceStats summarises one enhancement pass
type EnhanceStats struct {
	Attempts  int `json:"attempts"`
	Succeeded int `json:"succeeded"`
	Failures  int `json:"failures"`
}

// Enhancer attaches narratives to the top of a ranked list. Failures leave
// the narrative nil and never touch scores or order.
type Enhancer struct {
	logger   *zap.Logger
	narrator Narrator
	config   EnhancementConfig
	limiter  *rate.Limiter
}

// NewEnhancer creates an enhancer around narrator
func NewEnhancer(logger *zap.Logger, narrator Narrator, config EnhancementConfig) *Enhancer {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	return &Enhancer{
		logger:   logger.With(zap.String("component", "enhancer")),
		narrator: narrator,
		config:   config,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Enhance fills Narrative on the first TopN correlations. requests[i] must
// describe correlations[i]. Only a cancelled ctx returns an error.
func (e *Enhancer) Enhance(ctx context.Context, correlations []domain.Correlation, requests []NarrativeRequest) (EnhanceStats, error) {
	n := min(e.config.TopN, len(correlations), len(requests))
	if n <= 0 {
		return EnhanceStats{}, nil
	}

	narratives := make([]*string, n)
	var failures atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(max(1, e.config.Concurrency))
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			text, err := e.narrateWithRetry(ctx, requests[i])
			if err != nil {
				failures.Add(1)
				if ctx.Err() == nil {
					e.logger.Debug("Narrative enhancement failed",
						zap.String("correlation_id", requests[i].CorrelationID),
						zap.Error(err),
					)
				}
				return nil
			}
			narratives[i] = &text
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return EnhanceStats{}, err
	}

	stats := EnhanceStats{Attempts: n, Failures: int(failures.Load())}
	for i, text := range narratives {
		if text != nil {
			correlations[i].Narrative = text
			stats.Succeeded++
		}
	}
	if stats.Failures > 0 {
		e.logger.Warn("Some narrative enhancements failed",
			zap.Int("attempts", stats.Attempts),
			zap.Int("failures", stats.Failures),
		)
	}
	return stats, nil
}

func (e *Enhancer) narrateWithRetry(ctx context.Context, req NarrativeRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 && e.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.config.RetryDelay):
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, err := e.narrateOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrNarrativeFailed(req.CorrelationID, lastErr)
}

type narrateResult struct {
	text string
	err  error
}

// narrateOnce bounds one call by the per-call timeout. The call runs in its
// own goroutine so a narrator that ignores ctx cannot hold up the run.
func (e *Enhancer) narrateOnce(ctx context.Context, req NarrativeRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	done := make(chan narrateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- narrateResult{err: fmt.Errorf("narrator panic: %v", r)}
			}
		}()
		text, err := e.narrator.Narrate(callCtx, req)
		done <- narrateResult{text: text, err: err}
	}()

	select {
	case <-callCtx.Done():
		return "", callCtx.Err()
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		text := strings.TrimSpace(res.text)
		if text == "" {
			return "", errEmptyNarrative
		}
		return text, nil
	}
}
