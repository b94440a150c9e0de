// Package secondary provides the probabilistic scorer that is blended with
// the expert rule score.
package secondary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/scamshield/internal/domain"
)

// ErrModelNotLoaded means no model is available; decisions fall back to the expert score.
var ErrModelNotLoaded = errors.New("secondary model not loaded")

// Scorer produces a secondary score in [0,100] for an event.
// Implementations may be slow or fail; callers must treat errors as "unavailable".
type Scorer interface {
	Score(ctx context.Context, ev *domain.Event) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, ev *domain.Event) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, ev *domain.Event) (float64, error) {
	return f(ctx, ev)
}

type timeoutScorer struct {
	inner   Scorer
	timeout time.Duration
}

// WithTimeout bounds every call to s by d. A non-positive d returns s unchanged.
func WithTimeout(s Scorer, d time.Duration) Scorer {
	if d <= 0 {
		return s
	}
	return &timeoutScorer{inner: s, timeout: d}
}

func (t *timeoutScorer) Score(ctx context.Context, ev *domain.Event) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		score float64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		score, err := t.inner.Score(ctx, ev)
		done <- result{score: score, err: err}
	}()

	select {
	case r := <-done:
		return r.score, r.err
	case <-ctx.Done():
		return 0, fmt.Errorf("secondary scorer: %w", ctx.Err())
	}
}

// CachedScorer memoizes scores per tenant and feature vector.
type CachedScorer struct {
	inner  Scorer
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedScorer wraps inner with a cache. Cache failures never fail scoring.
func NewCachedScorer(inner Scorer, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *CachedScorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedScorer{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// Score returns a cached score when one exists, otherwise scores and caches.
func (c *CachedScorer) Score(ctx context.Context, ev *domain.Event) (float64, error) {
	tenantID := domain.GlobalTenantID
	if ev != nil && ev.TenantID != "" {
		tenantID = ev.TenantID
	}
	key := "secondary:" + Featurize(ev).Key()

	score, ok, err := c.cache.GetScore(ctx, tenantID, key)
	if err != nil {
		c.logger.Debug("secondary cache read failed", "tenant_id", tenantID, "error", err)
	} else if ok {
		return score, nil
	}

	score, err = c.inner.Score(ctx, ev)
	if err != nil {
		return 0, err
	}

	if err := c.cache.SetScore(ctx, tenantID, key, score, c.ttl); err != nil {
		c.logger.Debug("secondary cache write failed", "tenant_id", tenantID, "error", err)
	}
	return score, nil
}
