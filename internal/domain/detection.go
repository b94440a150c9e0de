package domain

import (
	"time"
)

// Tier is an ordinal risk bucket derived from a score.
type Tier string

const (
	TierT0 Tier = "T0" // lowest risk
	TierT1 Tier = "T1"
	TierT2 Tier = "T2"
	TierT3 Tier = "T3" // highest risk, also forced by hard stops
)

// Rank returns the ordinal position of the tier (T0 = 0).
func (t Tier) Rank() int {
	switch t {
	case TierT1:
		return 1
	case TierT2:
		return 2
	case TierT3:
		return 3
	default:
		return 0
	}
}

// MaxScore is the score assigned when a hard stop fires.
const MaxScore = 100.0

// Detection represents the complete risk decision for an event.
type Detection struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	EventID   string    `json:"eventId"`
	Score     float64   `json:"score"`
	Tier      Tier      `json:"tier"`
	HardStop  bool      `json:"hard_stop"`
	Timestamp time.Time `json:"timestamp"`

	// Score components
	ExpertScore    float64  `json:"expert_score"`
	SecondaryScore *float64 `json:"secondary_score,omitempty"`
	Blended        bool     `json:"blended"`

	// All matched rules, ordered by descending weight
	RuleHits []RuleHit `json:"rule_hits"`

	Actions []string `json:"actions"`
	Summary string   `json:"summary"`

	// Processing metadata
	Metadata DetectionMetadata `json:"metadata"`
}

// DetectionMetadata contains processing information.
type DetectionMetadata struct {
	TraceID         string `json:"traceId"`
	IngestMs        int64  `json:"ingestMs"`
	RulesMs         int64  `json:"rulesMs"`
	DecisionMs      int64  `json:"decisionMs"`
	TotalMs         int64  `json:"totalMs"`
	RulesEvaluated  int    `json:"rulesEvaluated"`
	RuleSetVersion  string `json:"ruleSetVersion"`
	SecondaryStatus string `json:"secondaryStatus"`
	EngineVersion   string `json:"engineVersion"`
}

// Secondary score statuses recorded in DetectionMetadata.
const (
	SecondaryProvided    = "provided"    // supplied by the caller
	SecondaryScored      = "scored"      // computed by the configured scorer
	SecondaryUnavailable = "unavailable" // no scorer configured
	SecondaryFailed      = "failed"      // scorer errored or timed out
	SecondarySkipped     = "skipped"     // hard stop fired
)

// DetectionResponse is the API response for an event detection.
type DetectionResponse struct {
	DetectionID    string            `json:"detection_id"`
	EventID        string            `json:"event_id"`
	Score          float64           `json:"score"`
	Tier           Tier              `json:"tier"`
	HardStop       bool              `json:"hard_stop"`
	ExpertScore    float64           `json:"expert_score"`
	SecondaryScore *float64          `json:"secondary_score,omitempty"`
	RuleHits       []RuleHit         `json:"rule_hits"`
	Actions        []string          `json:"actions"`
	Summary        string            `json:"summary"`
	Metadata       DetectionMetadata `json:"metadata"`
}

// ToResponse converts a Detection to an API response, keeping at most maxHits hits.
func (d *Detection) ToResponse(maxHits int) *DetectionResponse {
	hits := d.RuleHits
	if maxHits > 0 && len(hits) > maxHits {
		hits = hits[:maxHits]
	}
	if hits == nil {
		hits = []RuleHit{}
	}

	return &DetectionResponse{
		DetectionID:    d.ID,
		EventID:        d.EventID,
		Score:          d.Score,
		Tier:           d.Tier,
		HardStop:       d.HardStop,
		ExpertScore:    d.ExpertScore,
		SecondaryScore: d.SecondaryScore,
		RuleHits:       hits,
		Actions:        d.Actions,
		Summary:        d.Summary,
		Metadata:       d.Metadata,
	}
}

// Action codes recommended per tier.
const (
	ActionAllow                = "allow"
	ActionWarnUser             = "warn_user"
	ActionLog                  = "log"
	ActionStrongWarn           = "strong_warn"
	ActionLimitActions         = "limit_actions"
	ActionRequestVerification  = "request_verification"
	ActionBlock                = "block"
	ActionEscalateManualReview = "escalate_manual_review"
)

// ActionsForTier returns the action codes for a tier.
func ActionsForTier(t Tier) []string {
	switch t {
	case TierT1:
		return []string{ActionWarnUser, ActionLog}
	case TierT2:
		return []string{ActionStrongWarn, ActionLimitActions, ActionRequestVerification}
	case TierT3:
		return []string{ActionBlock, ActionEscalateManualReview}
	default:
		return []string{ActionAllow}
	}
}

// ActionDescriptions maps action codes to user-facing text.
var ActionDescriptions = map[string]string{
	ActionAllow:                "Allow the message. No risk detected.",
	ActionWarnUser:             "Show a simple warning to the user.",
	ActionLog:                  "Log the event for monitoring.",
	ActionStrongWarn:           "Display a strong fraud warning to the user.",
	ActionLimitActions:         "Limit account actions until the user is verified.",
	ActionRequestVerification:  "Ask the user to verify their identity.",
	ActionBlock:                "Block the message or transaction completely.",
	ActionEscalateManualReview: "Send the case to a human reviewer for manual inspection.",
}
