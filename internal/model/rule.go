package model

import "time"

// RuleStatus is the lifecycle state of an auto-append rule.
type RuleStatus string

const (
	RuleActive    RuleStatus = "active"
	RuleInactive  RuleStatus = "inactive"
	RuleSuspended RuleStatus = "suspended"
	RuleError     RuleStatus = "error"
)

// RecipeKind selects how a matching rule builds its new task.
type RecipeKind string

const (
	RecipeDirect   RecipeKind = "direct"
	RecipeTemplate RecipeKind = "template"
	RecipeClone    RecipeKind = "clone"
)

// Recipe is the tagged union describing how a rule creates a task. Exactly
// one of the kind-specific fields is populated, selected by Kind.
type Recipe struct {
	Kind RecipeKind `json:"kind"`

	// RecipeDirect
	TitleTemplate       string   `json:"title_template,omitempty"`
	DescriptionTemplate string   `json:"description_template,omitempty"`
	ParentID            string   `json:"parent_id,omitempty"`
	DependsOn           []string `json:"depends_on,omitempty"`

	// RecipeTemplate
	TemplateID string         `json:"template_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// RecipeClone
	SourceTaskID string `json:"source_task_id,omitempty"`
}

// Rule is a declarative (event-trigger, condition, creation-recipe) triple.
type Rule struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	TriggerKinds   []EventKind   `json:"trigger_kinds"`
	Condition      *Node         `json:"condition,omitempty"`
	Recipe         Recipe        `json:"recipe"`
	Priority       int           `json:"priority"`
	MaxExecutions  *int          `json:"max_executions,omitempty"`
	Cooldown       time.Duration `json:"cooldown"`
	ExecutionCount int           `json:"execution_count"`
	LastExecution  *time.Time    `json:"last_execution,omitempty"`
	Status         RuleStatus    `json:"status"`
	Creator        string        `json:"creator,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastError      string        `json:"last_error,omitempty"`
}

// MatchesKind reports whether the rule is triggered by the given event kind.
func (r *Rule) MatchesKind(kind EventKind) bool {
	for _, k := range r.TriggerKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// InCooldown reports whether the rule last fired too recently to fire again.
func (r *Rule) InCooldown(now time.Time) bool {
	if r.Cooldown <= 0 || r.LastExecution == nil {
		return false
	}
	return now.Sub(*r.LastExecution) < r.Cooldown
}

// ExhaustedExecutions reports whether the rule has reached its execution cap.
func (r *Rule) ExhaustedExecutions() bool {
	return r.MaxExecutions != nil && r.ExecutionCount >= *r.MaxExecutions
}

// RecordExecution bumps the execution counter and last-execution timestamp
// atomically with a successful task spawn (caller holds the registry lock).
func (r *Rule) RecordExecution(now time.Time) {
	r.ExecutionCount++
	r.LastExecution = &now
}
