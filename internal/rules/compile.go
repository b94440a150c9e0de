package rules

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/evidence"
)

var (
	// ErrMalformedRule is returned in strict mode for records or condition
	// nodes with an invalid shape or parameter.
	ErrMalformedRule = errors.New("malformed rule")

	// ErrInvalidCondition is returned when a regex or CEL expression fails to
	// compile. It rejects the batch regardless of policy.
	ErrInvalidCondition = errors.New("invalid condition")
)

// compiler turns raw condition trees into Condition values.
type compiler struct {
	env      *cel.Env
	strict   bool
	warnings []string
}

func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("channel", cel.StringType),
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func (c *compiler) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// malformed records a malformed node. In strict mode it is an error.
func (c *compiler) malformed(path, key, reason string) (Condition, error) {
	if c.strict {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedRule, path, reason)
	}
	c.warn("%s: %s (condition never matches)", path, reason)
	return Malformed{Name: key, Reason: reason}, nil
}

// knownKeys lists the combinator and primitive keys the compiler recognizes.
var knownKeys = map[string]bool{
	domain.CondAny:             true,
	domain.CondAll:             true,
	domain.CondTextContainsAny: true,
	domain.CondTextRegex:       true,
	domain.CondDomainMismatch:  true,
	domain.CondLookalike:       true,
	domain.CondDomainAgeUnder:  true,
	domain.CondReportsAtLeast:  true,
	domain.CondGlobalBlacklist: true,
	domain.CondConfirmedMule:   true,
	domain.CondMetadataExpr:    true,
}

// compile compiles one condition node. path identifies the node in messages.
func (c *compiler) compile(node any, path string) (Condition, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return c.malformed(path, "", fmt.Sprintf("condition must be an object, got %T", node))
	}
	var key string
	var param any
	switch len(m) {
	case 0:
		return c.malformed(path, "", "condition has no key")
	case 1:
		for k, v := range m {
			key, param = k, v
		}
	default:
		var recognized, extra []string
		for k := range m {
			if knownKeys[k] {
				recognized = append(recognized, k)
			} else {
				extra = append(extra, k)
			}
		}
		sort.Strings(recognized)
		sort.Strings(extra)
		if len(recognized) != 1 {
			return c.malformed(path, "", fmt.Sprintf("condition must have exactly one recognized key, got %v", recognized))
		}
		key, param = recognized[0], m[recognized[0]]
		c.warn("%s: ignoring extra keys %v next to %s", path, extra, key)
	}
	path = path + "." + key

	switch key {
	case domain.CondAny, domain.CondAll:
		items, ok := param.([]any)
		if !ok {
			return c.malformed(path, key, fmt.Sprintf("expected a list of conditions, got %T", param))
		}
		children := make([]Condition, 0, len(items))
		for i, item := range items {
			child, err := c.compile(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if key == domain.CondAny {
			return AnyOf{Children: children}, nil
		}
		return AllOf{Children: children}, nil

	case domain.CondTextContainsAny:
		terms, ok := toStrings(param)
		if !ok {
			return c.malformed(path, key, "expected a list of strings")
		}
		return ContainsAny{Terms: terms}, nil

	case domain.CondTextRegex:
		src, ok := param.(string)
		if !ok {
			return c.malformed(path, key, fmt.Sprintf("expected a pattern string, got %T", param))
		}
		re, err := evidence.CompilePattern(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, path, err)
		}
		return Pattern{Source: src, re: re}, nil

	case domain.CondDomainMismatch:
		enabled, ok := param.(bool)
		if !ok {
			return c.malformed(path, key, fmt.Sprintf("expected a boolean, got %T", param))
		}
		return DomainMismatch{Enabled: enabled}, nil

	case domain.CondLookalike:
		threshold, ok := toFloat(param)
		if !ok || threshold < 0 || threshold > 1 {
			return c.malformed(path, key, "expected a threshold within [0,1]")
		}
		return Lookalike{Threshold: threshold}, nil

	case domain.CondDomainAgeUnder:
		days, ok := toInt(param)
		if !ok {
			return c.malformed(path, key, "expected an integer number of days")
		}
		return DomainAgeUnder{Days: days}, nil

	case domain.CondReportsAtLeast:
		count, ok := toInt(param)
		if !ok {
			return c.malformed(path, key, "expected an integer report count")
		}
		return ReportsAtLeast{Count: count}, nil

	case domain.CondGlobalBlacklist:
		want, ok := param.(bool)
		if !ok {
			return c.malformed(path, key, fmt.Sprintf("expected a boolean, got %T", param))
		}
		return Blacklisted{Want: want}, nil

	case domain.CondConfirmedMule:
		want, ok := param.(bool)
		if !ok {
			return c.malformed(path, key, fmt.Sprintf("expected a boolean, got %T", param))
		}
		return ConfirmedMule{Want: want}, nil

	case domain.CondMetadataExpr:
		expr, ok := param.(string)
		if !ok {
			return c.malformed(path, key, fmt.Sprintf("expected an expression string, got %T", param))
		}
		program, err := c.compileExpr(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, path, err)
		}
		return MetadataExpr{Expr: expr, program: program}, nil

	default:
		c.warn("%s: unknown condition key %q (condition never matches)", path, key)
		return Unknown{Name: key}, nil
	}
}

func (c *compiler) compileExpr(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("expression must return bool, got %s", outputType)
	}

	return c.env.Program(ast)
}

// compileRule validates a definition and compiles its condition tree.
// A nil rule with a nil error means the record was skipped in lenient mode.
func (c *compiler) compileRule(def domain.RuleDefinition, position int) (*Rule, error) {
	label := def.ID
	if label == "" {
		label = fmt.Sprintf("#%d", position)
	}

	var reason string
	switch {
	case def.ID == "":
		reason = "missing id"
	case math.IsNaN(def.Weight) || math.IsInf(def.Weight, 0) || def.Weight < 0:
		reason = fmt.Sprintf("weight must be a non-negative number, got %v", def.Weight)
	case len(def.Conditions) == 0:
		reason = "missing conditions"
	}
	if reason != "" {
		if c.strict {
			return nil, fmt.Errorf("%w: rule %s: %s", ErrMalformedRule, label, reason)
		}
		c.warn("rule %s: %s (skipped)", label, reason)
		return nil, nil
	}

	cond, err := c.compile(def.Conditions, "rule "+def.ID)
	if err != nil {
		return nil, err
	}

	return &Rule{
		ID:         def.ID,
		Name:       def.Name,
		Weight:     def.Weight,
		HardStop:   def.HardStop,
		Position:   position,
		Condition:  cond,
		Definition: def,
	}, nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInt accepts integers and integral floats (JSON decodes every number as float64).
func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func toStrings(v any) ([]string, bool) {
	switch items := v.(type) {
	case []string:
		return items, true
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
