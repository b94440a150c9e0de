package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
- id: otp_request
  name: Asks for a one-time code
  weight: 45
  conditions:
    any:
      - text.contains_any: [otp, "one time code"]
      - text.regex: "(?i)verification code"
- id: confirmed_mule
  weight: 100
  hard_stop: true
  conditions:
    sender.confirmed_mule: true
- id: retired
  weight: 10
  enabled: false
  conditions:
    reputation.global_blacklist: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSourceYAML(t *testing.T) {
	src := NewFileSource(writeFile(t, "rules.yaml", sampleYAML), false, nil)

	defs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.Equal(t, "otp_request", defs[0].ID)
	assert.Equal(t, 45.0, defs[0].Weight)
	assert.True(t, defs[0].Enabled)
	assert.True(t, defs[1].HardStop)
	assert.False(t, defs[2].Enabled)

	e, err := NewEngine(Options{Source: src})
	require.NoError(t, err)
	n, err := e.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := e.Apply(&domain.Event{Text: "Please read me the verification code"})
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "otp_request", out.Hits[0].RuleID)
	assert.Equal(t, "(?i)verification code", out.Hits[0].Evidence["regex"])
}

func TestFileSourceJSON(t *testing.T) {
	path := writeFile(t, "rules.json", `[{"id": "reported", "weight": 20, "conditions": {"reputation.reports_last_90d_gte": 3}}]`)

	e, err := NewEngine(Options{Source: NewFileSource(path, true, nil)})
	require.NoError(t, err)
	n, err := e.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out := e.Apply(&domain.Event{Reputation: domain.Reputation{ReportsLast90d: 3}})
	require.Len(t, out.Hits, 1)
	assert.Equal(t, 3, out.Hits[0].Evidence["reports_last_90d"])
}

func TestFileSourceEmptyFile(t *testing.T) {
	defs, err := NewFileSource(writeFile(t, "rules.yaml", ""), true, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestFileSourceMissingFileKeepsRules(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"), false, nil)
	e, err := NewEngine(Options{Source: src})
	require.NoError(t, err)
	_, err = e.Replace([]domain.RuleDefinition{rule("a", 10, containsAny("x"))})
	require.NoError(t, err)

	_, err = e.Reload(context.Background())

	assert.ErrorIs(t, err, ErrReloadFailed)
	assert.Equal(t, 1, e.RulesCount())
}

func TestFileSourceInvalidYAML(t *testing.T) {
	_, err := NewFileSource(writeFile(t, "rules.yaml", "- id: [unclosed"), false, nil).Load(context.Background())
	assert.Error(t, err)
}

func TestDecodeDefinitions(t *testing.T) {
	raw := []any{
		map[string]any{"id": "ok", "weight": 10, "conditions": map[string]any{"sender.confirmed_mule": true}},
		"not a record",
		map[string]any{"id": "bad_weight", "weight": "heavy"},
	}

	t.Run("lenient skips bad records", func(t *testing.T) {
		defs, skipped, err := DecodeDefinitions(raw, false)
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, "ok", defs[0].ID)
		assert.Len(t, skipped, 2)
	})

	t.Run("strict rejects the batch", func(t *testing.T) {
		_, _, err := DecodeDefinitions(raw, true)
		assert.ErrorIs(t, err, ErrMalformedRule)
	})

	t.Run("rules object", func(t *testing.T) {
		defs, _, err := DecodeDefinitions(map[string]any{"rules": raw[:1]}, true)
		require.NoError(t, err)
		assert.Len(t, defs, 1)
	})

	t.Run("not a list", func(t *testing.T) {
		_, _, err := DecodeDefinitions("rules", false)
		assert.ErrorIs(t, err, ErrMalformedRule)
	})
}

// listRepo serves rule definitions; every other Repository method panics.
type listRepo struct {
	domain.Repository
	defs     []*domain.RuleDefinition
	tenantID string
}

func (r *listRepo) ListRuleDefinitions(_ context.Context, tenantID string) ([]*domain.RuleDefinition, error) {
	r.tenantID = tenantID
	return r.defs, nil
}

func TestRepositorySource(t *testing.T) {
	repo := &listRepo{defs: []*domain.RuleDefinition{
		{ID: "a", Weight: 10, Enabled: true, Conditions: map[string]any{"text.contains_any": []any{"x"}}},
		{ID: "b", Weight: 20, Enabled: true, Conditions: map[string]any{"text.contains_any": []any{"x"}}},
	}}

	e, err := NewEngine(Options{Source: NewRepositorySource(repo)})
	require.NoError(t, err)
	n, err := e.Reload(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.GlobalTenantID, repo.tenantID)
	assert.Equal(t, []string{"a", "b"}, []string{e.Rules()[0].ID, e.Rules()[1].ID})
}

func TestShippedRulesFile(t *testing.T) {
	engine, err := NewEngine(Options{
		Source: NewFileSource(filepath.Join("..", "..", "rules", "rules.yaml"), true, nil),
		Strict: true,
	})
	require.NoError(t, err)

	count, err := engine.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, count)
	assert.Empty(t, engine.Snapshot().Warnings)

	out := engine.Apply(&domain.Event{
		Text:          "URGENT: share the OTP we sent you",
		DisplayDomain: "paypal.com",
		FinalDomain:   "paypai.com",
		Channel:       "sms",
		Sender:        domain.Sender{DomainAgeDays: domain.IntPtr(3)},
	})

	require.NotEmpty(t, out.Hits)
	assert.Equal(t, "otp_request", out.Hits[0].RuleID)
	assert.Equal(t, "lookalike_domain", out.Hits[1].RuleID)
	assert.Len(t, out.Hits, 5)
	assert.Equal(t, domain.TierT2, out.Tier)
}
