package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/triplesync/core/internal/model"
)

// Registry stores auto-append rules and answers the engine's per-event
// lookups. It is the single lock-guarded owner of rule state (spec §8:
// "the rule registry ... [is] guarded by its own lock").
type Registry struct {
	mu        sync.Mutex
	rules     map[string]*model.Rule
	evaluator *Evaluator
}

// NewRegistry builds an empty Registry that validates rules at registration
// time with evaluator.
func NewRegistry(evaluator *Evaluator) *Registry {
	if evaluator == nil {
		evaluator = NewEvaluator()
	}
	return &Registry{rules: make(map[string]*model.Rule), evaluator: evaluator}
}

// Register validates rule's condition tree and stores it. A validation
// failure rejects the whole rule (spec §4.3) and the registry is left
// unchanged.
func (r *Registry) Register(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("rules: nil rule")
	}
	if rule.ID == "" {
		return fmt.Errorf("rules: rule id is required")
	}
	if err := r.evaluator.Validate(rule.Condition); err != nil {
		return fmt.Errorf("rules: rule %s rejected: %w", rule.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return nil
}

// Remove deletes a rule by id; a no-op if absent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, id)
}

// Get returns a copy of the rule by id.
func (r *Registry) Get(id string) (model.Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return model.Rule{}, false
	}
	return *rule, true
}

// ActiveRulesForKind returns the rules triggered by kind with status active,
// ordered by (priority asc, created_at asc) per spec §4.8 step 1.
func (r *Registry) ActiveRulesForKind(kind model.EventKind) []*model.Rule {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.Rule
	for _, rule := range r.rules {
		if rule.Status != model.RuleActive {
			continue
		}
		if !rule.MatchesKind(kind) {
			continue
		}
		copied := *rule
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched
}

// MarkSuspended transitions a rule to suspended status (spec §4.8 step 2:
// exhausted max_executions).
func (r *Registry) MarkSuspended(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.rules[id]; ok {
		rule.Status = model.RuleSuspended
	}
}

// MarkError transitions a rule to error status recording msg, without
// affecting any other rule (spec §4.8 step 3 / §8 invariant).
func (r *Registry) MarkError(id, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.rules[id]; ok {
		rule.Status = model.RuleError
		rule.LastError = msg
	}
}

// RecordExecution bumps the rule's execution counter and last-execution
// timestamp atomically with a successful recipe dispatch.
func (r *Registry) RecordExecution(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.rules[id]; ok {
		rule.RecordExecution(now)
	}
}

// All returns a snapshot of every registered rule, for diagnostics.
func (r *Registry) All() []model.Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
