package rules

import (
	"math"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/evidence"
)

// Evidence describes why a condition matched. Keys depend on the primitive.
type Evidence map[string]any

// Condition is a compiled node of a rule's condition tree.
// The set of variants is closed; conditions are built by the compiler only.
type Condition interface {
	// Key returns the condition key the node was compiled from.
	Key() string

	eval(ev *domain.Event) (bool, Evidence)
}

// Evaluate runs a condition against an event.
// A non-matching condition returns false and empty evidence.
func Evaluate(ev *domain.Event, c Condition) (bool, Evidence) {
	if c == nil || ev == nil {
		return false, nil
	}
	return c.eval(ev)
}

// AnyOf matches when at least one child matches. Children are evaluated in
// order and evaluation stops at the first match, whose evidence is returned.
type AnyOf struct {
	Children []Condition
}

func (AnyOf) Key() string { return domain.CondAny }

func (c AnyOf) eval(ev *domain.Event) (bool, Evidence) {
	for _, child := range c.Children {
		if ok, evd := child.eval(ev); ok {
			if evd == nil {
				evd = Evidence{}
			}
			return true, evd
		}
	}
	return false, nil
}

// AllOf matches when every child matches, so an empty AllOf matches with
// empty evidence. Evaluation stops at the first child that does not match.
// Evidence of matching children is merged in order, later keys replacing
// earlier ones.
type AllOf struct {
	Children []Condition
}

func (AllOf) Key() string { return domain.CondAll }

func (c AllOf) eval(ev *domain.Event) (bool, Evidence) {
	merged := Evidence{}
	for _, child := range c.Children {
		ok, evd := child.eval(ev)
		if !ok {
			return false, nil
		}
		for k, v := range evd {
			merged[k] = v
		}
	}
	return true, merged
}

// ContainsAny matches when the event text contains any of Terms, case-insensitively.
type ContainsAny struct {
	Terms []string
}

func (ContainsAny) Key() string { return domain.CondTextContainsAny }

func (c ContainsAny) eval(ev *domain.Event) (bool, Evidence) {
	matched := evidence.ContainsAny(ev.Text, c.Terms)
	if len(matched) == 0 {
		return false, nil
	}
	return true, Evidence{"matched_terms": matched}
}

// Pattern matches when the event text matches a regular expression.
type Pattern struct {
	Source string
	re     *regexp.Regexp
}

func (Pattern) Key() string { return domain.CondTextRegex }

func (c Pattern) eval(ev *domain.Event) (bool, Evidence) {
	if !evidence.PatternMatch(ev.Text, c.re) {
		return false, nil
	}
	return true, Evidence{"regex": c.Source}
}

// DomainMismatch matches when both domains are known and differ (case-insensitive).
type DomainMismatch struct {
	Enabled bool
}

func (DomainMismatch) Key() string { return domain.CondDomainMismatch }

func (c DomainMismatch) eval(ev *domain.Event) (bool, Evidence) {
	if !c.Enabled || ev.DisplayDomain == "" || ev.FinalDomain == "" {
		return false, nil
	}
	if strings.EqualFold(ev.DisplayDomain, ev.FinalDomain) {
		return false, nil
	}
	return true, Evidence{
		"display_domain": ev.DisplayDomain,
		"final_domain":   ev.FinalDomain,
	}
}

// Lookalike matches when the display and final domains are at least
// Threshold similar. Identical domains score 1.0 and therefore match; a
// missing domain scores 0 and only matches a zero threshold.
type Lookalike struct {
	Threshold float64
}

func (Lookalike) Key() string { return domain.CondLookalike }

func (c Lookalike) eval(ev *domain.Event) (bool, Evidence) {
	score := evidence.Similarity(ev.DisplayDomain, ev.FinalDomain)
	if score < c.Threshold {
		return false, nil
	}
	return true, Evidence{"lookalike_score": math.Round(score*100) / 100}
}

// DomainAgeUnder matches when the sender domain age is known and below Days.
type DomainAgeUnder struct {
	Days int
}

func (DomainAgeUnder) Key() string { return domain.CondDomainAgeUnder }

func (c DomainAgeUnder) eval(ev *domain.Event) (bool, Evidence) {
	age := ev.Sender.DomainAgeDays
	if age == nil || *age >= c.Days {
		return false, nil
	}
	return true, Evidence{"domain_age_days": *age}
}

// ReportsAtLeast matches when the 90 day report count reaches Count.
type ReportsAtLeast struct {
	Count int
}

func (ReportsAtLeast) Key() string { return domain.CondReportsAtLeast }

func (c ReportsAtLeast) eval(ev *domain.Event) (bool, Evidence) {
	if ev.Reputation.ReportsLast90d < c.Count {
		return false, nil
	}
	return true, Evidence{"reports_last_90d": ev.Reputation.ReportsLast90d}
}

// Blacklisted matches when the global blacklist flag equals Want.
type Blacklisted struct {
	Want bool
}

func (Blacklisted) Key() string { return domain.CondGlobalBlacklist }

func (c Blacklisted) eval(ev *domain.Event) (bool, Evidence) {
	if ev.Reputation.GlobalBlacklist != c.Want {
		return false, nil
	}
	return true, Evidence{"global_blacklist": ev.Reputation.GlobalBlacklist}
}

// ConfirmedMule matches when the confirmed mule flag equals Want.
type ConfirmedMule struct {
	Want bool
}

func (ConfirmedMule) Key() string { return domain.CondConfirmedMule }

func (c ConfirmedMule) eval(ev *domain.Event) (bool, Evidence) {
	if ev.Sender.ConfirmedMule != c.Want {
		return false, nil
	}
	return true, Evidence{"confirmed_mule": ev.Sender.ConfirmedMule}
}

// MetadataExpr matches when a CEL expression over the event metadata
// evaluates to true. Runtime errors (missing keys, type mismatches) do not match.
type MetadataExpr struct {
	Expr    string
	program cel.Program
}

func (MetadataExpr) Key() string { return domain.CondMetadataExpr }

func (c MetadataExpr) eval(ev *domain.Event) (bool, Evidence) {
	if c.program == nil {
		return false, nil
	}
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	out, _, err := c.program.Eval(map[string]any{
		"metadata": metadata,
		"channel":  ev.Channel,
		"text":     ev.Text,
	})
	if err != nil {
		return false, nil
	}
	if matched, ok := out.Value().(bool); !ok || !matched {
		return false, nil
	}
	return true, Evidence{"expression": c.Expr}
}

// Unknown is compiled from a key the engine does not recognize. It never matches.
type Unknown struct {
	Name string
}

func (c Unknown) Key() string { return c.Name }

func (Unknown) eval(*domain.Event) (bool, Evidence) { return false, nil }

// Malformed is compiled from a node whose shape or parameter is invalid.
// It never matches.
type Malformed struct {
	Name   string
	Reason string
}

func (c Malformed) Key() string { return c.Name }

func (Malformed) eval(*domain.Event) (bool, Evidence) { return false, nil }
