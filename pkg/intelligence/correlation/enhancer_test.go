package correlation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/sift/pkg/domain"
	"go.uber.org/zap/zaptest"
)

func enhancementConfig() EnhancementConfig {
	cfg := DefaultEnhancementConfig()
	cfg.Enabled = true
	cfg.TopN = 3
	cfg.Timeout = time.Second
	cfg.RetryDelay = 0
	return cfg
}

func enhanceFixture(n int) ([]domain.Correlation, []NarrativeRequest) {
	cs := make([]domain.Correlation, n)
	reqs := make([]NarrativeRequest, n)
	for i := range cs {
		cs[i] = corr("e", string(rune('a'+i)), 1-float64(i)/10, nil)
		reqs[i] = NarrativeRequest{CorrelationID: cs[i].ID, Strength: cs[i].Strength}
	}
	return cs, reqs
}

func TestEnhancerTopN(t *testing.T) {
	var calls atomic.Int32
	narrator := NarratorFunc(func(ctx context.Context, req NarrativeRequest) (string, error) {
		calls.Add(1)
		return "  linked activity  ", nil
	})
	cs, reqs := enhanceFixture(5)

	stats, err := NewEnhancer(zaptest.NewLogger(t), narrator, enhancementConfig()).Enhance(context.Background(), cs, reqs)
	require.NoError(t, err)

	assert.Equal(t, EnhanceStats{Attempts: 3, Succeeded: 3}, stats)
	assert.Equal(t, int32(3), calls.Load())
	for i := 0; i < 3; i++ {
		require.NotNil(t, cs[i].Narrative)
		assert.Equal(t, "linked activity", *cs[i].Narrative)
	}
	assert.Nil(t, cs[3].Narrative)
	assert.Nil(t, cs[4].Narrative)
}

func TestEnhancerIsolatesFailures(t *testing.T) {
	narrator := NarratorFunc(func(ctx context.Context, req NarrativeRequest) (string, error) {
		switch req.Strength {
		case 1:
			return "", errors.New("connection refused")
		case 0.9:
			panic("bad model output")
		default:
			return "ok", nil
		}
	})
	cs, reqs := enhanceFixture(3)
	before := pairs(cs)

	stats, err := NewEnhancer(zaptest.NewLogger(t), narrator, enhancementConfig()).Enhance(context.Background(), cs, reqs)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Nil(t, cs[0].Narrative)
	assert.Nil(t, cs[1].Narrative)
	require.NotNil(t, cs[2].Narrative)
	assert.Equal(t, before, pairs(cs))
}

func TestEnhancerEmptyResponseIsFailure(t *testing.T) {
	narrator := NarratorFunc(func(ctx context.Context, req NarrativeRequest) (string, error) {
		return " \n\t", nil
	})
	cs, reqs := enhanceFixture(1)

	stats, err := NewEnhancer(zaptest.NewLogger(t), narrator, enhancementConfig()).Enhance(context.Background(), cs, reqs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Nil(t, cs[0].Narrative)
}

func TestEnhancerPerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// ignores ctx entirely
	narrator := NarratorFunc(func(ctx context.Context, req NarrativeRequest) (string, error) {
		<-release
		return "late", nil
	})
	cfg := enhancementConfig()
	cfg.Timeout = 20 * time.Millisecond
	cs, reqs := enhanceFixture(3)

	start := time.Now()
	stats, err := NewEnhancer(zaptest.NewLogger(t), narrator, cfg).Enhance(context.Background(), cs, reqs)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 3, stats.Failures)
}

func TestEnhancerBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	narrator := NarratorFunc(func(ctx context.Context, req NarrativeRequest) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("busy")
		}
		return "third time lucky", nil
	})
	cfg := enhancementConfig()
	cfg.MaxRetries = 2
	cs, reqs := enhanceFixture(1)

	stats, err := NewEnhancer(zaptest.NewLogger(t), narrator, cfg).Enhance(context.Background(), cs, reqs)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	cs, reqs = enhanceFixture(1)
	stats, err = NewEnhancer(zaptest.NewLogger(t), narrator, cfg).Enhance(context.Background(), cs, reqs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, int32(-7), calls.Load())
}

func TestEnhancerCancellationPropagates(t *testing.T) {
	started := make(chan struct{}, 8)
	var cancelled atomic.Int32
	narrator := NarratorFunc(func(ctx context.Context, req NarrativeRequest) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		cancelled.Add(1)
		return "", ctx.Err()
	})
	cfg := enhancementConfig()
	cfg.Timeout = time.Minute
	cfg.Concurrency = 3
	cs, reqs := enhanceFixture(3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	start := time.Now()
	_, err := NewEnhancer(zaptest.NewLogger(t), narrator, cfg).Enhance(ctx, cs, reqs)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Eventually(t, func() bool { return cancelled.Load() >= 1 }, time.Second, 10*time.Millisecond)
}
