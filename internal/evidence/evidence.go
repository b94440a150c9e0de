// Package evidence provides the stateless text and domain primitives that
// rule conditions are built from.
package evidence

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/adrg/strutil/metrics"
)

// ContainsAny returns every term found in text, compared case-insensitively.
// Terms are returned in input order with case-insensitive duplicates removed.
func ContainsAny(text string, terms []string) []string {
	if text == "" || len(terms) == 0 {
		return nil
	}

	lowered := strings.ToLower(text)
	seen := make(map[string]struct{}, len(terms))

	var matched []string
	for _, term := range terms {
		needle := strings.ToLower(term)
		if needle == "" {
			continue
		}
		if _, dup := seen[needle]; dup {
			continue
		}
		seen[needle] = struct{}{}

		if strings.Contains(lowered, needle) {
			matched = append(matched, term)
		}
	}
	return matched
}

var jaroWinkler = metrics.NewJaroWinkler()

// Similarity returns the Jaro-Winkler similarity of a and b in [0,1].
// The comparison is case-insensitive; an empty input yields 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	return jaroWinkler.Compare(strings.ToLower(a), strings.ToLower(b))
}

// CompilePattern compiles a rule pattern. Invalid patterns are configuration errors.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// PatternMatch reports whether re occurs anywhere in text.
func PatternMatch(text string, re *regexp.Regexp) bool {
	if text == "" || re == nil {
		return false
	}
	return re.MatchString(text)
}
