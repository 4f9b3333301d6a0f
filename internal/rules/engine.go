// Package rules provides the CEL-Go based review rule engine. Analysts
// define boolean expressions over classified invoice fields; matches raise
// review flags on the record.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Engine is the CEL-based review rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ReviewRule
	Program cel.Program
}

// NewEngine creates a new review rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the classified invoice fields
	env, err := cel.NewEnv(
		cel.Variable("invoice_id", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("salesperson_id", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("amount_billed", cel.DoubleType),
		cel.Variable("discount", cel.DoubleType),
		cel.Variable("amount_received", cel.DoubleType),
		cel.Variable("net_due", cel.DoubleType),
		cel.Variable("leakage_amount", cel.DoubleType),
		cel.Variable("discount_pct", cel.DoubleType),
		cel.Variable("delay_days", cel.IntType),
		cel.Variable("leakage_type", cel.StringType),
		cel.Variable("timeliness", cel.StringType),
		cel.Variable("is_duplicate", cel.BoolType),
		cel.Variable("is_leaked", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.ReviewRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.ReviewRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.ReviewRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// activation builds the CEL variable bindings for one classified record.
func activation(tx *domain.ClassifiedTransaction) map[string]any {
	billed, _ := tx.AmountBilled.Float64()
	discount, _ := tx.Discount.Float64()
	received, _ := tx.AmountReceived.Float64()
	netDue, _ := tx.NetDue.Float64()
	leakage, _ := tx.LeakageAmount.Float64()

	discountPct := 0.0
	if tx.DiscountPct != nil {
		discountPct = *tx.DiscountPct
	}
	delayDays := 0
	if tx.PaymentDelayDays != nil {
		delayDays = *tx.PaymentDelayDays
	}

	return map[string]any{
		"invoice_id":      tx.InvoiceID,
		"customer_id":     tx.CustomerID,
		"salesperson_id":  tx.SalespersonID,
		"region":          tx.Region,
		"payment_method":  tx.PaymentMethod,
		"amount_billed":   billed,
		"discount":        discount,
		"amount_received": received,
		"net_due":         netDue,
		"leakage_amount":  leakage,
		"discount_pct":    discountPct,
		"delay_days":      delayDays,
		"leakage_type":    string(tx.LeakageType),
		"timeliness":      string(tx.Timeliness),
		"is_duplicate":    tx.IsDuplicate,
		"is_leaked":       tx.IsLeaked,
	}
}

// EvaluateAll evaluates every loaded rule against one classified record and
// returns the flags for rules that matched.
func (e *Engine) EvaluateAll(ctx context.Context, tx *domain.ClassifiedTransaction) ([]domain.ReviewFlag, error) {
	e.mu.RLock()
	ruleSet := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		ruleSet = append(ruleSet, rule)
	}
	e.mu.RUnlock()

	if len(ruleSet) == 0 {
		return nil, nil
	}

	vars := activation(tx)

	var (
		mu    sync.Mutex
		flags []domain.ReviewFlag
		wg    sync.WaitGroup
	)

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for _, rule := range ruleSet {
		wg.Add(1)
		go func(r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			out, _, err := r.Program.Eval(vars)
			if err != nil {
				mu.Lock()
				flags = append(flags, domain.ReviewFlag{
					RuleID:   r.Config.ID,
					RuleName: r.Config.Name,
					Severity: domain.SeverityWarning,
					Reason:   fmt.Sprintf("evaluation error: %v", err),
				})
				mu.Unlock()
				return
			}

			if matched, ok := out.(types.Bool); ok && bool(matched) {
				mu.Lock()
				flags = append(flags, domain.ReviewFlag{
					RuleID:   r.Config.ID,
					RuleName: r.Config.Name,
					Severity: r.Config.Severity,
					Reason:   r.Config.Description,
				})
				mu.Unlock()
			}
		}(rule)
	}

	wg.Wait()

	return flags, nil
}

// AnnotateBatch evaluates the loaded rules against every record in the
// batch, attaching flags in place.
func (e *Engine) AnnotateBatch(ctx context.Context, txs []domain.ClassifiedTransaction) error {
	if e.RulesCount() == 0 {
		return nil
	}
	for i := range txs {
		flags, err := e.EvaluateAll(ctx, &txs[i])
		if err != nil {
			return err
		}
		txs[i].ReviewFlags = flags
	}
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.ReviewRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.ReviewRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ruleSet := make([]*domain.ReviewRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		ruleSet = append(ruleSet, compiled.Config)
	}
	return ruleSet
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.ReviewRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
