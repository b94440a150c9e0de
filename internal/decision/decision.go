// Package decision turns a rule outcome into the final risk decision:
// hard stop, optional blend with the secondary score, tier and actions.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/rules"
	"github.com/opensource-finance/scamshield/internal/scoring"
	"github.com/opensource-finance/scamshield/internal/secondary"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// EngineVersion is recorded on every detection.
const EngineVersion = "scamshield-1.0"

// Processor produces detections from rule outcomes.
type Processor struct {
	// Alpha is the expert weight when blending (0..1)
	Alpha float64

	// MaxHits caps the hits returned by responses built from a detection
	MaxHits int

	// Scorer supplies the secondary score; nil means expert only
	Scorer secondary.Scorer

	// ScoreTimeout bounds a single Scorer call
	ScoreTimeout time.Duration
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		Alpha:        0.7,
		MaxHits:      5,
		ScoreTimeout: 200 * time.Millisecond,
	}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID  string
	Event     *domain.Event
	Outcome   *rules.Outcome
	TraceID   string
	StartTime time.Time

	// SecondaryScore is a caller-supplied score that replaces the Scorer.
	SecondaryScore *float64
}

// Process produces the final detection for an evaluated event.
func (p *Processor) Process(ctx context.Context, in *DecisionInput) *domain.Detection {
	ctx, span := otel.Tracer("scamshield-decision").Start(ctx, "decision.Process")
	defer span.End()

	start := time.Now()
	out := in.Outcome
	if out == nil {
		out = &rules.Outcome{Tier: domain.TierT0}
	}

	d := &domain.Detection{
		ID:          uuid.New().String(),
		TenantID:    in.TenantID,
		Timestamp:   time.Now().UTC(),
		HardStop:    out.HardStop,
		ExpertScore: scoring.Round1(out.ExpertScore),
		RuleHits:    out.Hits,
	}
	if in.Event != nil {
		d.EventID = in.Event.ID
	}
	if d.RuleHits == nil {
		d.RuleHits = []domain.RuleHit{}
	}

	var secondaryStatus string
	if out.HardStop {
		d.Score = domain.MaxScore
		d.Tier = domain.TierT3
		secondaryStatus = domain.SecondarySkipped
	} else {
		score := out.ExpertScore
		sec, status := p.secondaryScore(ctx, in)
		secondaryStatus = status
		if sec != nil {
			score = scoring.Blend(out.ExpertScore, *sec, p.Alpha)
			rounded := scoring.Round1(*sec)
			d.SecondaryScore = &rounded
			d.Blended = true
		}
		score = scoring.Clamp(score)
		d.Score = scoring.Round1(score)
		// The tier follows the reported one-decimal score.
		d.Tier = scoring.TierOf(d.Score)
	}

	d.Actions = domain.ActionsForTier(d.Tier)
	d.Summary = summarize(d)

	d.Metadata = domain.DetectionMetadata{
		TraceID:         in.TraceID,
		RulesMs:         out.Duration.Milliseconds(),
		DecisionMs:      time.Since(start).Milliseconds(),
		RulesEvaluated:  out.RulesEvaluated,
		RuleSetVersion:  out.RuleSetVersion,
		SecondaryStatus: secondaryStatus,
		EngineVersion:   EngineVersion,
	}
	if !in.StartTime.IsZero() {
		d.Metadata.TotalMs = time.Since(in.StartTime).Milliseconds()
	}

	span.SetAttributes(
		attribute.String("scamshield.tier", string(d.Tier)),
		attribute.Float64("scamshield.score", d.Score),
		attribute.Bool("scamshield.hard_stop", d.HardStop),
		attribute.String("scamshield.secondary_status", secondaryStatus),
	)

	return d
}

// secondaryScore returns the clamped secondary score, or nil when unavailable.
func (p *Processor) secondaryScore(ctx context.Context, in *DecisionInput) (*float64, string) {
	if in.SecondaryScore != nil {
		s := scoring.Clamp(*in.SecondaryScore)
		return &s, domain.SecondaryProvided
	}
	if p.Scorer == nil {
		return nil, domain.SecondaryUnavailable
	}

	s, err := secondary.WithTimeout(p.Scorer, p.ScoreTimeout).Score(ctx, in.Event)
	if err != nil {
		return nil, domain.SecondaryFailed
	}
	s = scoring.Clamp(s)
	return &s, domain.SecondaryScored
}

func summarize(d *domain.Detection) string {
	summary := fmt.Sprintf("Score %.1f -> %s. Expert=%.1f", d.Score, d.Tier, d.ExpertScore)
	if d.SecondaryScore != nil {
		summary += fmt.Sprintf(", Secondary=%.1f", *d.SecondaryScore)
	}
	return summary
}

// ShouldAlert returns true if the detection should trigger an alert.
func ShouldAlert(d *domain.Detection) bool {
	return d.Tier == domain.TierT3
}

// Reasons extracts the matched rule ids, strongest first.
func Reasons(d *domain.Detection) []string {
	reasons := make([]string, 0, len(d.RuleHits))
	for _, h := range d.RuleHits {
		reasons = append(reasons, h.RuleID)
	}
	return reasons
}
