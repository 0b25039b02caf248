package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/triplesync/core/internal/events"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/store/relational"
)

// TemplateResolver resolves a RecipeTemplate recipe's template id and
// parameters into a title/description pair (spec §4.8 step 2, "template":
// "resolve template by id, apply parameter substitution"). Template storage
// is caller-owned; the engine only needs the resolved content.
type TemplateResolver interface {
	Resolve(ctx context.Context, templateID string, params map[string]any) (title, description string, err error)
}

// EvalDeadline bounds how long a single rule's condition evaluation may run
// before the engine treats it as a soft-deadline failure (fail-closed).
const EvalDeadline = 200 * time.Millisecond

// Engine is the auto-append engine (C9): it subscribes to the event bus for
// every kind with at least one registered rule and, on each matching event,
// runs the spec §4.8 pipeline through to task creation.
type Engine struct {
	registry  *Registry
	evaluator *Evaluator
	tasks     relational.Store
	templates TemplateResolver
	logger    logging.Logger
}

// NewEngine builds an Engine. templates may be nil if no rule uses a
// template recipe.
func NewEngine(registry *Registry, evaluator *Evaluator, tasks relational.Store, templates TemplateResolver, logger logging.Logger) *Engine {
	if evaluator == nil {
		evaluator = NewEvaluator()
	}
	return &Engine{
		registry:  registry,
		evaluator: evaluator,
		tasks:     tasks,
		templates: templates,
		logger:    logging.OrNop(logger).With("rules-engine"),
	}
}

// SubscribeAll registers the engine as a listener on bus for every event
// kind the registry currently has at least one rule for (spec §4.8: "for
// all event kinds it has at least one rule for").
func (e *Engine) SubscribeAll(bus *events.Bus) {
	kinds := map[model.EventKind]bool{}
	for _, rule := range e.registry.All() {
		for _, k := range rule.TriggerKinds {
			kinds[k] = true
		}
	}
	for kind := range kinds {
		bus.Subscribe(kind, "rules-engine", e.HandleEvent)
	}
}

// HandleEvent runs the spec §4.8 pipeline for a single incoming event. It
// satisfies events.Listener.
func (e *Engine) HandleEvent(ctx context.Context, event model.Event) error {
	rules := e.registry.ActiveRulesForKind(event.Kind)
	for _, rule := range rules {
		e.processRule(ctx, rule, event)
	}
	return nil
}

func (e *Engine) processRule(ctx context.Context, rule *model.Rule, event model.Event) {
	now := time.Now()

	if rule.InCooldown(now) {
		return
	}
	if rule.ExhaustedExecutions() {
		e.registry.MarkSuspended(rule.ID)
		return
	}

	var snapshot *model.Task
	if e.tasks != nil && conditionReferencesTask(rule.Condition) {
		task, err := e.tasks.GetTask(ctx, event.TaskID)
		if err != nil {
			e.registry.MarkError(rule.ID, fmt.Sprintf("snapshot fetch failed: %v", err))
			return
		}
		snapshot = task
	}

	evalCtx, cancel := context.WithTimeout(ctx, EvalDeadline)
	matched := e.evaluator.Evaluate(evalCtx, rule.Condition, Snapshot{Event: event, Task: snapshot})
	cancel()
	if !matched {
		return
	}

	created, err := e.dispatchRecipe(ctx, rule, event, snapshot)
	if err != nil {
		e.registry.MarkError(rule.ID, err.Error())
		return
	}

	if e.tasks != nil {
		if err := e.tasks.CreateTask(ctx, created); err != nil {
			e.registry.MarkError(rule.ID, fmt.Sprintf("task creation failed: %v", err))
			return
		}
	}
	e.registry.RecordExecution(rule.ID, now)
}

// conditionReferencesTask reports whether the tree has any leaf whose
// category needs a task snapshot, so the engine only pays for a fetch when
// required (spec §4.8: "optionally fetch ... only if any condition
// references task properties").
func conditionReferencesTask(node *model.Node) bool {
	if node == nil {
		return false
	}
	if node.IsLeaf {
		switch node.Category {
		case model.CategoryTaskStatus, model.CategoryTaskType, model.CategorySpecialistType,
			model.CategoryComplexity, model.CategoryTaskProperty:
			return true
		default:
			return false
		}
	}
	for _, child := range node.Children {
		if conditionReferencesTask(child) {
			return true
		}
	}
	return false
}

func (e *Engine) dispatchRecipe(ctx context.Context, rule *model.Rule, event model.Event, snapshot *model.Task) (*model.Task, error) {
	switch rule.Recipe.Kind {
	case model.RecipeDirect:
		return e.dispatchDirect(rule, event), nil
	case model.RecipeTemplate:
		return e.dispatchTemplate(ctx, rule, event)
	case model.RecipeClone:
		return e.dispatchClone(ctx, rule, event, snapshot)
	default:
		return nil, fmt.Errorf("rules: unknown recipe kind %q", rule.Recipe.Kind)
	}
}

func (e *Engine) dispatchDirect(rule *model.Rule, event model.Event) *model.Task {
	now := time.Now()
	task := &model.Task{
		ID:          uuid.NewString(),
		Title:       substitute(rule.Recipe.TitleTemplate, event),
		Description: substitute(rule.Recipe.DescriptionTemplate, event),
		Status:      model.StatusPending,
		Priority:    model.PriorityNormal,
		ParentID:    rule.Recipe.ParentID,
		Creator:     "rules-engine:" + rule.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(rule.Recipe.DependsOn) > 0 {
		task.Relations = map[model.RelationKind]map[string]bool{
			model.RelationDependsOn: {},
		}
		for _, dep := range rule.Recipe.DependsOn {
			task.Relations[model.RelationDependsOn][dep] = true
		}
	}
	return task
}

func (e *Engine) dispatchTemplate(ctx context.Context, rule *model.Rule, event model.Event) (*model.Task, error) {
	if e.templates == nil {
		return nil, fmt.Errorf("rules: rule %s uses a template recipe but no TemplateResolver is configured", rule.ID)
	}
	title, description, err := e.templates.Resolve(ctx, rule.Recipe.TemplateID, rule.Recipe.Parameters)
	if err != nil {
		return nil, fmt.Errorf("rules: template resolution failed: %w", err)
	}
	now := time.Now()
	return &model.Task{
		ID:          uuid.NewString(),
		Title:       substitute(title, event),
		Description: substitute(description, event),
		Status:      model.StatusPending,
		Priority:    model.PriorityNormal,
		Creator:     "rules-engine:" + rule.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (e *Engine) dispatchClone(ctx context.Context, rule *model.Rule, event model.Event, snapshot *model.Task) (*model.Task, error) {
	source := snapshot
	if source == nil {
		if e.tasks == nil {
			return nil, fmt.Errorf("rules: clone recipe requires a task store")
		}
		sourceID := rule.Recipe.SourceTaskID
		if sourceID == "" {
			sourceID = event.TaskID
		}
		fetched, err := e.tasks.GetTask(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("rules: clone source fetch failed: %w", err)
		}
		if fetched == nil {
			return nil, fmt.Errorf("rules: clone source task %s not found", sourceID)
		}
		source = fetched
	}

	now := time.Now()
	return &model.Task{
		ID:          uuid.NewString(),
		Title:       source.Title,
		Description: source.Description,
		Status:      model.StatusPending,
		Priority:    source.Priority,
		Type:        source.Type,
		ProjectID:   source.ProjectID,
		Feature:     source.Feature,
		Milestone:   source.Milestone,
		Creator:     "rules-engine:" + rule.ID,
		Metadata:    source.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// substitute replaces "{task_id}" with event.TaskID in a recipe template
// string; the direct/template recipes' only supported interpolation.
func substitute(tmpl string, event model.Event) string {
	return strings.ReplaceAll(tmpl, "{task_id}", event.TaskID)
}
