package decision

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/rules"
	"github.com/opensource-finance/scamshield/internal/secondary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedScorer(score float64, calls *int32) secondary.Scorer {
	return secondary.ScorerFunc(func(context.Context, *domain.Event) (float64, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return score, nil
	})
}

func outcome(expert float64, tier domain.Tier, hits ...domain.RuleHit) *rules.Outcome {
	return &rules.Outcome{
		Hits:           hits,
		ExpertScore:    expert,
		Score:          expert,
		Tier:           tier,
		RulesEvaluated: 4,
		RuleSetVersion: "v-test",
	}
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("ExpertOnly", func(t *testing.T) {
		p := NewProcessor()
		d := p.Process(ctx, &DecisionInput{
			TenantID:  "tenant-001",
			Event:     &domain.Event{ID: "ev-1"},
			Outcome:   outcome(63.21, domain.TierT2, domain.RuleHit{RuleID: "otp_request", Weight: 45}),
			TraceID:   "trace-001",
			StartTime: time.Now(),
		})

		assert.NotEmpty(t, d.ID)
		assert.Equal(t, "tenant-001", d.TenantID)
		assert.Equal(t, "ev-1", d.EventID)
		assert.Equal(t, 63.2, d.Score)
		assert.Equal(t, domain.TierT2, d.Tier)
		assert.False(t, d.Blended)
		assert.Nil(t, d.SecondaryScore)
		assert.Equal(t, domain.SecondaryUnavailable, d.Metadata.SecondaryStatus)
		assert.Equal(t, []string{"strong_warn", "limit_actions", "request_verification"}, d.Actions)
		assert.Equal(t, "Score 63.2 -> T2. Expert=63.2", d.Summary)
		assert.Equal(t, "trace-001", d.Metadata.TraceID)
		assert.Equal(t, "v-test", d.Metadata.RuleSetVersion)
		assert.Equal(t, 4, d.Metadata.RulesEvaluated)
	})

	t.Run("BlendWithScorer", func(t *testing.T) {
		p := NewProcessor()
		p.Scorer = fixedScorer(20, nil)

		d := p.Process(ctx, &DecisionInput{Event: &domain.Event{}, Outcome: outcome(80, domain.TierT3)})

		assert.InDelta(t, 62.0, d.Score, 1e-9)
		assert.Equal(t, domain.TierT2, d.Tier)
		assert.True(t, d.Blended)
		require.NotNil(t, d.SecondaryScore)
		assert.Equal(t, 20.0, *d.SecondaryScore)
		assert.Equal(t, domain.SecondaryScored, d.Metadata.SecondaryStatus)
		assert.Equal(t, "Score 62.0 -> T2. Expert=80.0, Secondary=20.0", d.Summary)
	})

	t.Run("CallerScoreWins", func(t *testing.T) {
		var calls int32
		p := NewProcessor()
		p.Scorer = fixedScorer(90, &calls)
		provided := 150.0

		d := p.Process(ctx, &DecisionInput{
			Event:          &domain.Event{},
			Outcome:        outcome(50, domain.TierT2),
			SecondaryScore: &provided,
		})

		assert.Zero(t, atomic.LoadInt32(&calls))
		require.NotNil(t, d.SecondaryScore)
		assert.Equal(t, 100.0, *d.SecondaryScore, "secondary score is clamped")
		assert.InDelta(t, 65.0, d.Score, 1e-9)
		assert.Equal(t, domain.SecondaryProvided, d.Metadata.SecondaryStatus)
	})

	t.Run("HardStopSkipsScorer", func(t *testing.T) {
		var calls int32
		p := NewProcessor()
		p.Scorer = fixedScorer(0, &calls)
		out := outcome(4.9, domain.TierT3, domain.RuleHit{RuleID: "confirmed_mule", Weight: 5, HardStop: true})
		out.HardStop = true
		out.Score = domain.MaxScore

		d := p.Process(ctx, &DecisionInput{Event: &domain.Event{}, Outcome: out})

		assert.Zero(t, atomic.LoadInt32(&calls))
		assert.Equal(t, domain.MaxScore, d.Score)
		assert.Equal(t, domain.TierT3, d.Tier)
		assert.True(t, d.HardStop)
		assert.False(t, d.Blended)
		assert.Equal(t, domain.SecondarySkipped, d.Metadata.SecondaryStatus)
		assert.True(t, ShouldAlert(d))
		assert.Equal(t, []string{"block", "escalate_manual_review"}, d.Actions)
	})

	t.Run("HardStopIgnoresLowCallerScore", func(t *testing.T) {
		low := 0.0
		out := outcome(0.5, domain.TierT3)
		out.HardStop = true

		d := NewProcessor().Process(ctx, &DecisionInput{Outcome: out, SecondaryScore: &low})

		assert.Equal(t, domain.MaxScore, d.Score)
		assert.Equal(t, domain.TierT3, d.Tier)
	})

	t.Run("ScorerErrorFallsBack", func(t *testing.T) {
		p := NewProcessor()
		p.Scorer = secondary.ScorerFunc(func(context.Context, *domain.Event) (float64, error) {
			return 0, errors.New("model offline")
		})

		d := p.Process(ctx, &DecisionInput{Event: &domain.Event{}, Outcome: outcome(30, domain.TierT1)})

		assert.Equal(t, 30.0, d.Score)
		assert.Equal(t, domain.TierT1, d.Tier)
		assert.Equal(t, domain.SecondaryFailed, d.Metadata.SecondaryStatus)
	})

	t.Run("ScorerTimeoutFallsBack", func(t *testing.T) {
		p := NewProcessor()
		p.ScoreTimeout = 10 * time.Millisecond
		p.Scorer = secondary.ScorerFunc(func(ctx context.Context, _ *domain.Event) (float64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})

		d := p.Process(ctx, &DecisionInput{Event: &domain.Event{}, Outcome: outcome(30, domain.TierT1)})

		assert.Equal(t, 30.0, d.Score)
		assert.False(t, d.Blended)
		assert.Equal(t, domain.SecondaryFailed, d.Metadata.SecondaryStatus)
	})

	t.Run("NoHits", func(t *testing.T) {
		d := NewProcessor().Process(ctx, &DecisionInput{Outcome: outcome(0, domain.TierT0)})

		assert.NotNil(t, d.RuleHits)
		assert.Zero(t, d.Score)
		assert.Equal(t, domain.TierT0, d.Tier)
		assert.Equal(t, []string{"allow"}, d.Actions)
		assert.False(t, ShouldAlert(d))
	})

	t.Run("TierMatchesReportedScore", func(t *testing.T) {
		d := NewProcessor().Process(ctx, &DecisionInput{Outcome: outcome(24.96, domain.TierT0)})

		assert.Equal(t, 25.0, d.Score)
		assert.Equal(t, domain.TierT1, d.Tier)
		assert.Equal(t, "Score 25.0 -> T1. Expert=25.0", d.Summary)

		p := NewProcessor()
		p.Alpha = 0.5
		d = p.Process(ctx, &DecisionInput{Outcome: outcome(49.94, domain.TierT1), SecondaryScore: ptr(50.0)})
		assert.Equal(t, 50.0, d.Score)
		assert.Equal(t, domain.TierT2, d.Tier)
	})
}

func ptr(v float64) *float64 { return &v }

func TestReasons(t *testing.T) {
	d := &domain.Detection{RuleHits: []domain.RuleHit{{RuleID: "a"}, {RuleID: "b"}}}
	assert.Equal(t, []string{"a", "b"}, Reasons(d))
}

func TestResponseTruncatesHits(t *testing.T) {
	hits := make([]domain.RuleHit, 7)
	for i := range hits {
		hits[i] = domain.RuleHit{RuleID: string(rune('a' + i)), Weight: float64(10 - i)}
	}

	d := NewProcessor().Process(context.Background(), &DecisionInput{Outcome: outcome(90, domain.TierT3, hits...)})
	resp := d.ToResponse(5)

	assert.Len(t, d.RuleHits, 7)
	assert.Len(t, resp.RuleHits, 5)
	assert.Equal(t, "a", resp.RuleHits[0].RuleID)
}
