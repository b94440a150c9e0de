package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsAny(t *testing.T) {
	text := "URGENT: send your OTP within 5 minutes and keep this confidential."

	t.Run("CaseInsensitiveInputOrder", func(t *testing.T) {
		got := ContainsAny(text, []string{"urgent", "seed phrase", "OTP", "confidential"})
		assert.Equal(t, []string{"urgent", "OTP", "confidential"}, got)
	})

	t.Run("Deduplicates", func(t *testing.T) {
		got := ContainsAny(text, []string{"otp", "OTP", "otp"})
		assert.Equal(t, []string{"otp"}, got)
	})

	t.Run("EmptyInputs", func(t *testing.T) {
		assert.Empty(t, ContainsAny("", []string{"otp"}))
		assert.Empty(t, ContainsAny(text, nil))
		assert.Empty(t, ContainsAny(text, []string{""}))
	})

	t.Run("NoMatch", func(t *testing.T) {
		assert.Empty(t, ContainsAny("lunch at noon?", []string{"otp", "wire"}))
	})
}

func TestSimilarity(t *testing.T) {
	t.Run("EmptyYieldsZero", func(t *testing.T) {
		assert.Equal(t, 0.0, Similarity("", "paypal.com"))
		assert.Equal(t, 0.0, Similarity("paypal.com", ""))
		assert.Equal(t, 0.0, Similarity("", ""))
	})

	t.Run("IdenticalIgnoringCase", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("PayPal.com", "paypal.COM"), 1e-9)
	})

	t.Run("LookalikeScoresHigh", func(t *testing.T) {
		lookalike := Similarity("support.paypai.com", "support.paypal.com")
		unrelated := Similarity("support.paypai.com", "mail.example.org")

		assert.Greater(t, lookalike, 0.9)
		assert.LessOrEqual(t, lookalike, 1.0)
		assert.Less(t, unrelated, lookalike)
	})

	t.Run("Bounded", func(t *testing.T) {
		for _, pair := range [][2]string{{"a", "b"}, {"abc", "abd"}, {"x", "xxxxxxxx"}} {
			s := Similarity(pair[0], pair[1])
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	})
}

func TestPatternMatch(t *testing.T) {
	re, err := CompilePattern(`(?i)gift\s*cards?`)
	require.NoError(t, err)

	assert.True(t, PatternMatch("Please buy two Gift Cards today", re))
	assert.False(t, PatternMatch("Please buy two tickets today", re))
	assert.False(t, PatternMatch("", re))
	assert.False(t, PatternMatch("gift card", nil))
}

func TestCompilePatternInvalid(t *testing.T) {
	_, err := CompilePattern(`([a-z`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}
