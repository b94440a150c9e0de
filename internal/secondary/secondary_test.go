package secondary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/scamshield/internal/cache"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeaturize(t *testing.T) {
	f := Featurize(&domain.Event{
		Text:          "URGENT: send your OTP and seed phrase",
		DisplayDomain: "paypal.com",
		FinalDomain:   "paypai.com",
		Sender:        domain.Sender{DomainAgeDays: domain.IntPtr(4)},
		Reputation:    domain.Reputation{ReportsLast90d: 12, GlobalBlacklist: true},
	})

	assert.Equal(t, 37.0, f[FeatureLenText])
	assert.Equal(t, 1.0, f[FeatureHasOTP])
	assert.Equal(t, 1.0, f[FeatureHasSeed])
	assert.Equal(t, 1.0, f[FeatureHasUrgent])
	assert.Equal(t, 1.0, f[FeatureURLMismatch])
	assert.Equal(t, 4.0, f[FeatureDomainAge])
	assert.Equal(t, 12.0, f[FeatureReports])
	assert.Equal(t, 1.0, f[FeatureBlacklisted])
	assert.Len(t, f, len(FeatureNames))
}

func TestFeaturizeDefaults(t *testing.T) {
	f := Featurize(&domain.Event{Text: "hello"})

	assert.Equal(t, float64(UnknownDomainAge), f[FeatureDomainAge])
	assert.Zero(t, f[FeatureURLMismatch], "two empty domains do not mismatch")
	assert.Zero(t, f[FeatureHasOTP])
	assert.Equal(t, Featurize(&domain.Event{Text: "hello"}).Key(), f.Key())
	assert.NotEqual(t, Featurize(&domain.Event{Text: "hello!"}).Key(), f.Key())
}

func writeModel(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadModel(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		m, err := LoadModel(writeModel(t, `{
			"version": "test-1",
			"feature_order": ["has_otp", "blacklisted"],
			"coefficients": [2.0, 3.0],
			"intercept": -1.0
		}`))
		require.NoError(t, err)
		assert.Equal(t, "test-1", m.Version)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadModel(filepath.Join(t.TempDir(), "absent.json"))
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := LoadModel("")
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := LoadModel(writeModel(t, `{"feature_order": [`))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrModelNotLoaded))
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := LoadModel(writeModel(t, `{"feature_order": ["has_otp"], "coefficients": [], "intercept": 0}`))
		assert.Error(t, err)
	})

	t.Run("unknown feature", func(t *testing.T) {
		_, err := LoadModel(writeModel(t, `{"feature_order": ["shoe_size"], "coefficients": [1], "intercept": 0}`))
		assert.Error(t, err)
	})
}

func TestLogisticScorer(t *testing.T) {
	s, err := NewLogisticScorer(&Model{
		FeatureOrder: []string{FeatureHasOTP, FeatureBlacklisted},
		Coefficients: []float64{2.0, 3.0},
		Intercept:    -2.0,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// z = -2 -> about 11.92
	benign, err := s.Score(ctx, &domain.Event{Text: "lunch at noon?"})
	require.NoError(t, err)
	assert.InDelta(t, 11.92, benign, 0.01)

	// z = -2 + 2 = 0 -> 50
	otp, err := s.Score(ctx, &domain.Event{Text: "your OTP is"})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, otp, 1e-9)

	// z = 3 -> about 95.26
	both, err := s.Score(ctx, &domain.Event{Text: "otp", Reputation: domain.Reputation{GlobalBlacklist: true}})
	require.NoError(t, err)
	assert.InDelta(t, 95.26, both, 0.01)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Score(cancelled, &domain.Event{})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewLogisticScorer(nil)
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestWithTimeout(t *testing.T) {
	slow := ScorerFunc(func(ctx context.Context, _ *domain.Event) (float64, error) {
		select {
		case <-time.After(time.Second):
			return 99, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	fast := ScorerFunc(func(context.Context, *domain.Event) (float64, error) { return 42, nil })

	_, err := WithTimeout(slow, 20*time.Millisecond).Score(context.Background(), &domain.Event{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	score, err := WithTimeout(fast, time.Second).Score(context.Background(), &domain.Event{})
	require.NoError(t, err)
	assert.Equal(t, 42.0, score)

	_, wrapped := WithTimeout(fast, 0).(*timeoutScorer)
	assert.False(t, wrapped, "a zero timeout leaves the scorer unwrapped")
}

func TestCachedScorer(t *testing.T) {
	var calls int32
	inner := ScorerFunc(func(context.Context, *domain.Event) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 64, nil
	})
	s := NewCachedScorer(inner, cache.NewLRUCache(10), time.Minute, nil)
	ctx := context.Background()
	ev := &domain.Event{TenantID: "tenant-001", Text: "send the otp"}

	for i := 0; i < 3; i++ {
		score, err := s.Score(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, 64.0, score)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// A different tenant has its own entry.
	_, err := s.Score(ctx, &domain.Event{TenantID: "tenant-002", Text: "send the otp"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCachedScorerDoesNotCacheErrors(t *testing.T) {
	var calls int32
	inner := ScorerFunc(func(context.Context, *domain.Event) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("model offline")
	})
	s := NewCachedScorer(inner, cache.NewLRUCache(10), time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := s.Score(context.Background(), &domain.Event{Text: "x"})
		assert.Error(t, err)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
