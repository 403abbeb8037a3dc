package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Dispatcher performs the side effect of one action.
// An error means the action failed; it never aborts the engine pass.
type Dispatcher interface {
	Dispatch(ctx context.Context, action Action, mc MeetingContext) (ActionResult, error)
}

// EngineStats counts what the engine did since it was created
type EngineStats struct {
	Passes         atomic.Int64
	RulesFired     atomic.Int64
	ActionFailures atomic.Int64
	StatsFailures  atomic.Int64
}

// Engine loads rules, evaluates their triggers against a meeting and runs the
// actions of every rule that fires.
// Rules and actions run sequentially in load and declaration order; separate
// Run calls share nothing but the store and the cache.
// Without WithCache every pass reads the store, so enabling, disabling or
// deleting a rule from any process takes effect on the next pass.
type Engine struct {
	store      RuleStore
	dispatcher Dispatcher
	cache      RulesCache
	logger     *slog.Logger
	now        func() time.Time
	stats      *EngineStats
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithCache serves the rule list from cache between passes.
// Rule changes made by another engine only show up once that engine
// invalidates the same cache or the entry expires, so a per-process cache
// suits deployments where this engine makes every change.
func WithCache(cache RulesCache) EngineOption {
	return func(en *Engine) { en.cache = cache }
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) EngineOption {
	return func(en *Engine) { en.logger = logger }
}

// WithClock overrides time.Now, mostly for tests
func WithClock(now func() time.Time) EngineOption {
	return func(en *Engine) { en.now = now }
}

// WithStats makes the engine record into shared counters
func WithStats(stats *EngineStats) EngineOption {
	return func(en *Engine) { en.stats = stats }
}

// NewEngine creates a new automation engine
func NewEngine(store RuleStore, dispatcher Dispatcher, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("rule store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("action dispatcher is required")
	}

	en := &Engine{
		store:      store,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		now:        time.Now,
		stats:      &EngineStats{},
	}
	for _, opt := range opts {
		opt(en)
	}
	en.logger = en.logger.With("module", "automation_engine")

	return en, nil
}

// Stats returns the engine counters
func (en *Engine) Stats() *EngineStats {
	return en.stats
}

// CreateRule validates a rule and persists it with its triggers and actions.
// Nothing is written when validation fails.
func (en *Engine) CreateRule(ctx context.Context, r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}

	if err := en.store.Create(ctx, r); err != nil {
		return err
	}

	en.invalidate(ctx)
	en.logger.InfoContext(ctx, "rule created", "rule_id", r.ID, "rule_name", r.Name,
		"triggers", len(r.Triggers), "actions", len(r.Actions))
	return nil
}

// GetRule returns a rule straight from the store
func (en *Engine) GetRule(ctx context.Context, id string) (*Rule, error) {
	return en.store.Get(ctx, id)
}

// ListRules returns every rule straight from the store
func (en *Engine) ListRules(ctx context.Context) ([]*Rule, error) {
	return en.store.List(ctx, "")
}

// SetRuleEnabled enables or disables a rule
func (en *Engine) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	if err := en.store.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	en.invalidate(ctx)
	return nil
}

// DeleteRule removes a rule
func (en *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := en.store.Delete(ctx, id); err != nil {
		return err
	}
	en.invalidate(ctx)
	return nil
}

// Run executes one automation pass for a meeting.
// An empty ruleID runs every rule, otherwise only that rule.
// Only loading the rules can fail the pass; action and stats failures are
// reported in the outcome or the logs.
func (en *Engine) Run(ctx context.Context, mc MeetingContext, ruleID string) (*ExecutionOutcome, error) {
	loaded, err := en.loadRules(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	en.stats.Passes.Add(1)

	outcome := &ExecutionOutcome{
		Success:            true,
		TriggeredWorkflows: []string{},
		Actions:            []ActionOutcome{},
	}

	for _, rule := range loaded {
		if !rule.Enabled {
			continue
		}
		if !Matches(rule.Triggers, mc) {
			continue
		}

		outcome.TriggeredWorkflows = append(outcome.TriggeredWorkflows, rule.Name)
		en.stats.RulesFired.Add(1)
		en.logger.InfoContext(ctx, "rule fired", "rule_id", rule.ID, "rule_name", rule.Name)

		for _, action := range rule.Actions {
			outcome.Actions = append(outcome.Actions, en.runAction(ctx, rule, action, mc))
		}

		if err := en.store.IncrementStats(ctx, rule.ID, en.now()); err != nil {
			en.stats.StatsFailures.Add(1)
			en.logger.ErrorContext(ctx, "failed to update rule stats", "rule_id", rule.ID, "error", err)
		}
	}

	return outcome, nil
}

// runAction dispatches one action and turns the result into an outcome
func (en *Engine) runAction(ctx context.Context, rule *Rule, action Action, mc MeetingContext) ActionOutcome {
	out := ActionOutcome{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		ActionType: action.Kind,
	}

	result, err := en.dispatcher.Dispatch(ctx, action, mc)
	if err != nil {
		en.stats.ActionFailures.Add(1)
		en.logger.WarnContext(ctx, "action failed", "rule_id", rule.ID, "action_type", action.Kind, "error", err)
		out.Error = err.Error()
		return out
	}

	out.Success = result.Success
	out.Result = result.Data
	if !result.Success {
		en.stats.ActionFailures.Add(1)
		out.Error = result.Message
	}
	return out
}

func (en *Engine) invalidate(ctx context.Context) {
	if en.cache != nil {
		en.cache.Invalidate(ctx)
	}
}

// loadRules serves the full list from the cache when there is one
func (en *Engine) loadRules(ctx context.Context, ruleID string) ([]*Rule, error) {
	if en.cache == nil {
		return en.store.List(ctx, ruleID)
	}

	all := en.cache.Get(ctx)
	cached := all != nil
	if !cached {
		var err error
		all, err = en.store.List(ctx, "")
		if err != nil {
			return nil, err
		}
		en.cache.Set(ctx, all)
	}

	if ruleID == "" {
		return all, nil
	}
	for _, r := range all {
		if r.ID == ruleID {
			return []*Rule{r}, nil
		}
	}
	if cached {
		// the rule may have been created by another process since the cache was filled
		return en.store.List(ctx, ruleID)
	}
	return []*Rule{}, nil
}
