package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triplesync/core/internal/model"
)

func activeRule(id string, priority int, kind model.EventKind) *model.Rule {
	return &model.Rule{
		ID:           id,
		Name:         id,
		TriggerKinds: []model.EventKind{kind},
		Condition:    model.Leaf(model.CategoryEventType, "kind", model.OpEquals, string(kind)),
		Recipe:       model.Recipe{Kind: model.RecipeDirect, TitleTemplate: "t"},
		Priority:     priority,
		Status:       model.RuleActive,
		CreatedAt:    time.Now(),
	}
}

func TestRegistry_RegisterRejectsInvalidCondition(t *testing.T) {
	reg := NewRegistry(nil)
	rule := activeRule("r1", 0, model.EventCreated)
	rule.Condition = model.Leaf(model.CategoryEventData, "__proto__", model.OpEquals, "x")
	err := reg.Register(rule)
	require.Error(t, err)
	_, ok := reg.Get("r1")
	assert.False(t, ok)
}

func TestRegistry_ActiveRulesForKind_OrdersByPriorityThenCreatedAt(t *testing.T) {
	reg := NewRegistry(nil)
	older := activeRule("older", 5, model.EventCreated)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := activeRule("newer", 5, model.EventCreated)
	newer.CreatedAt = time.Now()
	highPriority := activeRule("high-priority-number", 1, model.EventCreated)

	require.NoError(t, reg.Register(newer))
	require.NoError(t, reg.Register(older))
	require.NoError(t, reg.Register(highPriority))

	matched := reg.ActiveRulesForKind(model.EventCreated)
	require.Len(t, matched, 3)
	assert.Equal(t, "high-priority-number", matched[0].ID)
	assert.Equal(t, "older", matched[1].ID)
	assert.Equal(t, "newer", matched[2].ID)
}

func TestRegistry_ActiveRulesForKind_ExcludesInactiveAndNonMatching(t *testing.T) {
	reg := NewRegistry(nil)
	inactive := activeRule("inactive", 0, model.EventCreated)
	inactive.Status = model.RuleInactive
	wrongKind := activeRule("wrong-kind", 0, model.EventCompleted)
	match := activeRule("match", 0, model.EventCreated)

	require.NoError(t, reg.Register(inactive))
	require.NoError(t, reg.Register(wrongKind))
	require.NoError(t, reg.Register(match))

	matched := reg.ActiveRulesForKind(model.EventCreated)
	require.Len(t, matched, 1)
	assert.Equal(t, "match", matched[0].ID)
}

func TestRegistry_MarkSuspendedRemovesFromActiveLookup(t *testing.T) {
	reg := NewRegistry(nil)
	rule := activeRule("r1", 0, model.EventCreated)
	require.NoError(t, reg.Register(rule))

	reg.MarkSuspended("r1")
	assert.Empty(t, reg.ActiveRulesForKind(model.EventCreated))

	got, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Equal(t, model.RuleSuspended, got.Status)
}

func TestRegistry_MarkErrorDoesNotAffectSiblingRules(t *testing.T) {
	reg := NewRegistry(nil)
	bad := activeRule("bad", 0, model.EventCreated)
	good := activeRule("good", 1, model.EventCreated)
	require.NoError(t, reg.Register(bad))
	require.NoError(t, reg.Register(good))

	reg.MarkError("bad", "boom")

	matched := reg.ActiveRulesForKind(model.EventCreated)
	require.Len(t, matched, 1)
	assert.Equal(t, "good", matched[0].ID)

	badRule, ok := reg.Get("bad")
	require.True(t, ok)
	assert.Equal(t, model.RuleError, badRule.Status)
	assert.Equal(t, "boom", badRule.LastError)
}

func TestRegistry_RecordExecutionBumpsCounterAndTimestamp(t *testing.T) {
	reg := NewRegistry(nil)
	rule := activeRule("r1", 0, model.EventCreated)
	require.NoError(t, reg.Register(rule))

	now := time.Now()
	reg.RecordExecution("r1", now)

	got, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, got.ExecutionCount)
	require.NotNil(t, got.LastExecution)
	assert.WithinDuration(t, now, *got.LastExecution, time.Millisecond)
}
