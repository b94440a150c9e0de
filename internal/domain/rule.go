package domain

// RuleDefinition is a declarative scam detection rule as stored in a rule source.
// Conditions holds the raw condition tree: {any: [...]}, {all: [...]} or
// {<primitive-key>: <parameter>}.
type RuleDefinition struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId,omitempty" yaml:"-"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Contribution to the aggregate score when matched (non-negative)
	Weight float64 `json:"weight" yaml:"weight"`

	// HardStop forces the top tier when the rule matches
	HardStop bool `json:"hard_stop" yaml:"hard_stop"`

	Conditions map[string]any `json:"conditions" yaml:"conditions"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleHit is produced for every rule whose full condition tree matched an event.
type RuleHit struct {
	RuleID   string         `json:"rule_id"`
	Weight   float64        `json:"weight"`
	HardStop bool           `json:"hard_stop,omitempty"`
	Evidence map[string]any `json:"evidence"`
}

// Primitive condition keys understood by the rule engine.
const (
	CondAny             = "any"
	CondAll             = "all"
	CondTextContainsAny = "text.contains_any"
	CondTextRegex       = "text.regex"
	CondDomainMismatch  = "url.display_domain_neq_final"
	CondLookalike       = "url.lookalike_threshold"
	CondDomainAgeUnder  = "sender.domain_age_lt_days"
	CondReportsAtLeast  = "reputation.reports_last_90d_gte"
	CondGlobalBlacklist = "reputation.global_blacklist"
	CondConfirmedMule   = "sender.confirmed_mule"
	CondMetadataExpr    = "metadata.expr"
)
