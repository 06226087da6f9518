// Package rules provides the CEL-Go based detection rule engine.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates detection rules. Evaluation is a pure
// predicate over a transaction: no state is read or written, so evaluating
// the same transaction twice always yields the same matches. Deduplication
// against existing alerts is the alert emitter's job, not the engine's.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[int]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.Rule
	Program cel.Program
}

// Match is a rule that fired for a transaction.
type Match struct {
	RuleID   int
	Name     string
	Severity string
}

// NewEngine creates a rule engine with the transaction variable schema.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[int]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without mutating the loaded rule set.
func (e *Engine) ValidateRule(r *domain.Rule) error {
	if r == nil {
		return fmt.Errorf("rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(r)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(r *domain.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(r)
	if err != nil {
		return err
	}

	e.compiled[r.ID] = compiled

	return nil
}

// LoadRules compiles and loads all enabled rules, skipping the ML sentinel.
func (e *Engine) LoadRules(rules []*domain.Rule) error {
	for _, r := range rules {
		if !r.Enabled || r.ID == domain.MLRuleID {
			continue
		}
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[int]*CompiledRule)

	for _, r := range rules {
		if !r.Enabled || r.ID == domain.MLRuleID {
			continue
		}

		compiled, err := e.compileRule(r)
		if err != nil {
			return err
		}
		next[r.ID] = compiled
	}

	e.compiled = next

	return nil
}

// Evaluate runs every loaded rule against a transaction and returns the
// rules that fired. Idempotent and side-effect-free.
func (e *Engine) Evaluate(tx *domain.Transaction) []Match {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	features := make(map[string]float64, domain.FeatureCount)
	for i, v := range tx.Features {
		features[fmt.Sprintf("v%d", i+1)] = v
	}

	activation := map[string]any{
		"amount":   tx.Amount,
		"hour":     tx.Timestamp.Hour(),
		"features": features,
	}

	var matches []Match
	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			// Compile-time checked as bool; a runtime error (e.g. a missing
			// map key) means the rule cannot fire for this transaction.
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			matches = append(matches, Match{
				RuleID:   r.Rule.ID,
				Name:     r.Rule.Name,
				Severity: r.Rule.Severity,
			})
		}
	}

	return matches
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *Engine) LoadedRules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.Rule, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[int]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(r *domain.Rule) (*CompiledRule, error) {
	if r.ID == domain.MLRuleID {
		return nil, fmt.Errorf("rule id %d is reserved for classifier alerts", domain.MLRuleID)
	}
	if r.Expression == "" {
		return nil, fmt.Errorf("rule %d has no expression", r.ID)
	}

	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %d: %w", r.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %d: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %d: %w", r.ID, err)
	}

	return &CompiledRule{
		Rule:    r,
		Program: program,
	}, nil
}
