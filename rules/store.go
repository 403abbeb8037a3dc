package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleStore manages rule persistence and retrieval.
// Implementations must write a rule together with its triggers and actions
// atomically: readers never observe a rule without them.
type RuleStore interface {
	// Create persists a new rule with its triggers and actions as one unit
	Create(ctx context.Context, rule *Rule) error

	// Get returns a rule with its triggers and actions
	Get(ctx context.Context, id string) (*Rule, error)

	// List returns rules in load order (creation time, then id).
	// A non-empty filterID restricts the result to that rule.
	List(ctx context.Context, filterID string) ([]*Rule, error)

	// IncrementStats bumps the execution counter by one and sets last_triggered
	IncrementStats(ctx context.Context, id string, at time.Time) error

	// SetEnabled flips the enabled flag of a rule
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// Delete removes a rule with its triggers and actions
	Delete(ctx context.Context, id string) error
}

// prepareForCreate fills ids and timestamps shared by all store implementations
func prepareForCreate(rule *Rule, now time.Time) error {
	if len(rule.Triggers) == 0 || len(rule.Actions) == 0 {
		return &ValidationError{Problems: []string{"rule must have at least one trigger and one action"}}
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	for i := range rule.Triggers {
		if rule.Triggers[i].ID == "" {
			rule.Triggers[i].ID = uuid.NewString()
		}
	}
	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = uuid.NewString()
		}
	}
	rule.ExecutionCount = 0
	rule.LastTriggered = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe; rules are copied on the way in and out.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	order []string
	now   func() time.Time
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
}

// Create adds a new rule to the store
func (s *InMemoryRuleStore) Create(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID != "" {
		if _, exists := s.rules[rule.ID]; exists {
			return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleExists)
		}
	}
	if err := prepareForCreate(rule, s.now().UTC()); err != nil {
		return err
	}

	s.rules[rule.ID] = rule.clone()
	s.order = append(s.order, rule.ID)
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule.clone(), nil
}

// List returns rules in insertion order
func (s *InMemoryRuleStore) List(_ context.Context, filterID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filterID != "" {
		rule, exists := s.rules[filterID]
		if !exists {
			return []*Rule{}, nil
		}
		return []*Rule{rule.clone()}, nil
	}

	list := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.rules[id].clone())
	}
	return list, nil
}

// IncrementStats bumps the execution counter of a rule
func (s *InMemoryRuleStore) IncrementStats(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	triggered := at.UTC()
	rule.ExecutionCount++
	rule.LastTriggered = &triggered
	rule.UpdatedAt = triggered
	return nil
}

// SetEnabled flips the enabled flag of a rule
func (s *InMemoryRuleStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	rule.Enabled = enabled
	rule.UpdatedAt = s.now().UTC()
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
