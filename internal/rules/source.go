package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/scamshield/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileSource loads rule definitions from a YAML or JSON file holding a list of rules.
type FileSource struct {
	Path   string
	Strict bool
	Logger *slog.Logger
}

// NewFileSource creates a file-backed rule source.
func NewFileSource(path string, strict bool, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{Path: path, Strict: strict, Logger: logger}
}

// Load reads and decodes the rule file. An empty file yields no rules.
func (s *FileSource) Load(ctx context.Context) ([]domain.RuleDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", s.Path, err)
	}

	// YAML is a superset of JSON, so one decoder serves both formats.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", s.Path, err)
	}

	defs, skipped, err := DecodeDefinitions(raw, s.Strict)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", s.Path, err)
	}
	for _, reason := range skipped {
		s.Logger.Warn("skipped rule record", "path", s.Path, "detail", reason)
	}
	return defs, nil
}

// DecodeDefinitions converts a decoded document into rule definitions.
// The document is a list of rule records, or an object with a "rules" list.
// Records with the wrong shape are skipped (and described in the returned
// slice) unless strict is set, in which case the first one is an error.
// Enabled defaults to true when a record does not set it.
func DecodeDefinitions(raw any, strict bool) ([]domain.RuleDefinition, []string, error) {
	if raw == nil {
		return []domain.RuleDefinition{}, nil, nil
	}
	if m, ok := raw.(map[string]any); ok {
		raw = m["rules"]
		if raw == nil {
			return []domain.RuleDefinition{}, nil, nil
		}
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: expected a list of rules, got %T", ErrMalformedRule, raw)
	}

	defs := make([]domain.RuleDefinition, 0, len(items))
	var skipped []string
	for i, item := range items {
		def, err := decodeRecord(item)
		if err != nil {
			if strict {
				return nil, nil, fmt.Errorf("%w: record %d: %v", ErrMalformedRule, i, err)
			}
			skipped = append(skipped, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, skipped, nil
}

func decodeRecord(item any) (domain.RuleDefinition, error) {
	var def domain.RuleDefinition

	rec, ok := item.(map[string]any)
	if !ok {
		return def, fmt.Errorf("expected an object, got %T", item)
	}

	def.Enabled = true

	if v, ok := rec["id"]; ok {
		switch id := v.(type) {
		case string:
			def.ID = id
		case int:
			def.ID = fmt.Sprint(id)
		default:
			return def, fmt.Errorf("id must be a string, got %T", v)
		}
	}
	if v, ok := rec["name"].(string); ok {
		def.Name = v
	}
	if v, ok := rec["description"].(string); ok {
		def.Description = v
	}
	if v, ok := rec["weight"]; ok {
		w, ok := toFloat(v)
		if !ok {
			return def, fmt.Errorf("rule %s: weight must be a number, got %T", def.ID, v)
		}
		def.Weight = w
	}
	if v, ok := rec["hard_stop"]; ok {
		b, ok := v.(bool)
		if !ok {
			return def, fmt.Errorf("rule %s: hard_stop must be a boolean, got %T", def.ID, v)
		}
		def.HardStop = b
	}
	if v, ok := rec["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return def, fmt.Errorf("rule %s: enabled must be a boolean, got %T", def.ID, v)
		}
		def.Enabled = b
	}
	if v, ok := rec["conditions"]; ok && v != nil {
		conds, ok := v.(map[string]any)
		if !ok {
			return def, fmt.Errorf("rule %s: conditions must be an object, got %T", def.ID, v)
		}
		def.Conditions = conds
	}

	return def, nil
}

// RepositorySource loads the global rule definitions from a repository.
type RepositorySource struct {
	Repo domain.Repository
}

// NewRepositorySource creates a database-backed rule source.
func NewRepositorySource(repo domain.Repository) *RepositorySource {
	return &RepositorySource{Repo: repo}
}

// Load lists the stored global rules in position order.
func (s *RepositorySource) Load(ctx context.Context) ([]domain.RuleDefinition, error) {
	stored, err := s.Repo.ListRuleDefinitions(ctx, domain.GlobalTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	defs := make([]domain.RuleDefinition, 0, len(stored))
	for _, d := range stored {
		defs = append(defs, *d)
	}
	return defs, nil
}
