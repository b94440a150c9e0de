// Package scoring turns matched rule weights into bounded risk scores and tiers.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/scamshield/internal/domain"
)

// Tier lower bounds. Scores at or above a bound belong to that tier.
const (
	TierT1Floor = 25.0
	TierT2Floor = 50.0
	TierT3Floor = 80.0
)

// Aggregate combines rule weights with diminishing returns:
// 100 * (1 - e^(-sum/100)), clamped to [0,100].
func Aggregate(weights []float64) float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	return clamp(100.0 * (1.0 - math.Exp(-total/100.0)))
}

// TierOf maps a score onto T0..T3. Scores above 100 map to T3; negative
// and NaN scores map to T0.
func TierOf(score float64) domain.Tier {
	switch {
	case score >= TierT3Floor:
		return domain.TierT3
	case score >= TierT2Floor:
		return domain.TierT2
	case score >= TierT1Floor:
		return domain.TierT1
	default:
		return domain.TierT0
	}
}

// Blend linearly interpolates between the expert and secondary scores.
// alpha is the weight on the expert score.
func Blend(expert, secondary, alpha float64) float64 {
	return alpha*expert + (1-alpha)*secondary
}

// ValidateAlpha checks that a blend weight lies in [0,1].
func ValidateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return fmt.Errorf("blend alpha must be within [0,1], got %v", alpha)
	}
	return nil
}

// Clamp bounds a score to [0,100]. NaN becomes 0.
func Clamp(score float64) float64 {
	return clamp(score)
}

// Round1 rounds a score to one decimal place.
func Round1(score float64) float64 {
	return math.Round(score*10) / 10
}

func clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > domain.MaxScore {
		return domain.MaxScore
	}
	return score
}
