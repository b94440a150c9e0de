// Package rules provides the declarative scam rule engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/scoring"
)

var (
	// ErrReloadFailed wraps every reload failure. The previous rule set stays active.
	ErrReloadFailed = errors.New("rule reload failed")

	// ErrNoSource is returned by Reload when the engine has no rule source.
	ErrNoSource = errors.New("no rule source configured")
)

// Rule is a compiled rule.
type Rule struct {
	ID         string
	Name       string
	Weight     float64
	HardStop   bool
	Position   int
	Condition  Condition
	Definition domain.RuleDefinition
}

// RuleSet is an immutable snapshot of compiled rules in load order.
type RuleSet struct {
	Version  string
	LoadedAt time.Time
	Rules    []*Rule
	Skipped  int
	Warnings []string
}

// Outcome is the result of applying a rule set to one event.
type Outcome struct {
	// Hits ordered by descending weight; equal weights keep load order.
	Hits     []domain.RuleHit
	HardStop bool

	// ExpertScore is the diminishing-returns aggregate of hit weights.
	ExpertScore float64

	// Score and Tier are forced to 100 and T3 by a hard stop.
	Score float64
	Tier  domain.Tier

	RulesEvaluated int
	RuleSetVersion string
	Duration       time.Duration
}

// Source supplies rule definitions for a reload.
type Source interface {
	Load(ctx context.Context) ([]domain.RuleDefinition, error)
}

// Options configures an Engine.
type Options struct {
	Source Source

	// Strict rejects a batch with malformed records or nodes instead of
	// skipping records and compiling nodes that never match.
	Strict bool

	Logger *slog.Logger

	// OnReload is called after every reload attempt.
	OnReload func(rs *RuleSet, err error)
}

// Engine evaluates events against the current rule set.
// Apply is safe to call concurrently with Reload and Replace: each Apply reads
// exactly one snapshot, and a failed reload leaves the snapshot untouched.
type Engine struct {
	current  atomic.Pointer[RuleSet]
	reloadMu sync.Mutex
	env      *cel.Env
	source   Source
	strict   bool
	logger   *slog.Logger
	onReload func(*RuleSet, error)
}

// NewEngine creates an engine with an empty rule set.
func NewEngine(opts Options) (*Engine, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		env:      env,
		source:   opts.Source,
		strict:   opts.Strict,
		logger:   logger,
		onReload: opts.OnReload,
	}
	e.current.Store(&RuleSet{Version: "empty", LoadedAt: time.Now().UTC()})
	return e, nil
}

// Apply evaluates every rule of the current snapshot against ev.
func (e *Engine) Apply(ev *domain.Event) *Outcome {
	start := time.Now()
	rs := e.current.Load()
	if ev == nil {
		ev = &domain.Event{}
	}

	out := &Outcome{
		Hits:           []domain.RuleHit{},
		RulesEvaluated: len(rs.Rules),
		RuleSetVersion: rs.Version,
	}

	for _, r := range rs.Rules {
		matched, evd := e.evaluateRule(r, ev)
		if !matched {
			continue
		}
		if evd == nil {
			evd = Evidence{}
		}
		out.Hits = append(out.Hits, domain.RuleHit{
			RuleID:   r.ID,
			Weight:   r.Weight,
			HardStop: r.HardStop,
			Evidence: evd,
		})
		if r.HardStop {
			out.HardStop = true
		}
	}

	sort.SliceStable(out.Hits, func(i, j int) bool {
		return out.Hits[i].Weight > out.Hits[j].Weight
	})

	weights := make([]float64, len(out.Hits))
	for i, h := range out.Hits {
		weights[i] = h.Weight
	}
	out.ExpertScore = scoring.Aggregate(weights)

	if out.HardStop {
		out.Score = domain.MaxScore
		out.Tier = domain.TierT3
	} else {
		out.Score = out.ExpertScore
		out.Tier = scoring.TierOf(scoring.Round1(out.ExpertScore))
	}

	out.Duration = time.Since(start)
	return out
}

// evaluateRule isolates a single rule so one failing rule cannot abort the event.
func (e *Engine) evaluateRule(r *Rule, ev *domain.Event) (matched bool, evd Evidence) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("rule evaluation panicked",
				"rule_id", r.ID,
				"panic", fmt.Sprint(p),
			)
			matched, evd = false, nil
		}
	}()
	return Evaluate(ev, r.Condition)
}

// Validate compiles a single definition with strict checks, without loading it.
func (e *Engine) Validate(def domain.RuleDefinition) error {
	c := &compiler{env: e.env, strict: true}
	_, err := c.compileRule(def, 0)
	return err
}

// Replace compiles defs and swaps them in as the active rule set.
// It returns the number of rules loaded.
func (e *Engine) Replace(defs []domain.RuleDefinition) (int, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	return ruleCount(e.replaceLocked(defs))
}

// Reload fetches definitions from the configured source and swaps them in.
// It returns the number of rules loaded.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	return ruleCount(e.ReloadSet(ctx))
}

// ReloadSet is Reload returning the rule set it published.
func (e *Engine) ReloadSet(ctx context.Context) (*RuleSet, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.source == nil {
		return e.fail(ErrNoSource)
	}

	defs, err := e.source.Load(ctx)
	if err != nil {
		return e.fail(err)
	}
	return e.replaceLocked(defs)
}

func ruleCount(rs *RuleSet, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	return len(rs.Rules), nil
}

func (e *Engine) replaceLocked(defs []domain.RuleDefinition) (*RuleSet, error) {
	rs, err := e.compileSet(defs)
	if err != nil {
		return e.fail(err)
	}

	e.current.Store(rs)

	for _, w := range rs.Warnings {
		e.logger.Warn("rule warning", "version", rs.Version, "detail", w)
	}
	e.logger.Info("rules reloaded",
		"version", rs.Version,
		"rules_loaded", len(rs.Rules),
		"rules_skipped", rs.Skipped,
	)
	if e.onReload != nil {
		e.onReload(rs, nil)
	}
	return rs, nil
}

func (e *Engine) fail(err error) (*RuleSet, error) {
	err = fmt.Errorf("%w: %w", ErrReloadFailed, err)
	e.logger.Error("rule reload failed, keeping previous rules",
		"version", e.current.Load().Version,
		"error", err,
	)
	if e.onReload != nil {
		e.onReload(nil, err)
	}
	return nil, err
}

func (e *Engine) compileSet(defs []domain.RuleDefinition) (*RuleSet, error) {
	c := &compiler{env: e.env, strict: e.strict}
	rs := &RuleSet{
		Version:  uuid.New().String(),
		LoadedAt: time.Now().UTC(),
		Rules:    make([]*Rule, 0, len(defs)),
	}

	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		if !def.Enabled {
			continue
		}

		r, err := c.compileRule(def, i)
		if err != nil {
			return nil, err
		}
		if r == nil {
			rs.Skipped++
			continue
		}

		if seen[r.ID] {
			c.warn("rule %s: duplicate id, both rules are evaluated", r.ID)
		}
		seen[r.ID] = true
		rs.Rules = append(rs.Rules, r)
	}

	rs.Warnings = c.warnings
	return rs, nil
}

// Snapshot returns the active rule set.
func (e *Engine) Snapshot() *RuleSet {
	return e.current.Load()
}

// Rules returns the definitions of the active rule set in load order.
func (e *Engine) Rules() []domain.RuleDefinition {
	rs := e.current.Load()
	defs := make([]domain.RuleDefinition, len(rs.Rules))
	for i, r := range rs.Rules {
		defs[i] = r.Definition
	}
	return defs
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	return len(e.current.Load().Rules)
}
