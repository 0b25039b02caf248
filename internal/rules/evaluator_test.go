package rules

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triplesync/core/internal/model"
)

func snapFor(task *model.Task, data map[string]any) Snapshot {
	return Snapshot{
		Event: model.Event{Kind: model.EventStatusChanged, TaskID: "t1", Timestamp: time.Now(), Data: data},
		Task:  task,
	}
}

func TestEvaluate_SimpleLeafEquals(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "completed")
	task := &model.Task{Status: model.StatusCompleted}
	assert.True(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))

	task.Status = model.StatusPending
	assert.False(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
}

func TestEvaluate_AndRequiresAllChildren(t *testing.T) {
	e := NewEvaluator()
	node := model.And(
		model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "completed"),
		model.Leaf(model.CategoryTaskProperty, "priority", model.OpEquals, "high"),
	)
	task := &model.Task{Status: model.StatusCompleted, Priority: model.PriorityHigh}
	assert.True(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))

	task.Priority = model.PriorityLow
	assert.False(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
}

func TestEvaluate_OrRequiresAnyChild(t *testing.T) {
	e := NewEvaluator()
	node := model.Or(
		model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "failed"),
		model.Leaf(model.CategoryTaskProperty, "priority", model.OpEquals, "critical"),
	)
	task := &model.Task{Status: model.StatusCompleted, Priority: model.PriorityCritical}
	assert.True(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
}

func TestEvaluate_NotNegatesChild(t *testing.T) {
	e := NewEvaluator()
	node := model.Not(model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "completed"))
	task := &model.Task{Status: model.StatusPending}
	assert.True(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
}

func TestEvaluate_MatchesRegexCachesCompiledPattern(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryTaskProperty, "title", model.OpMatchesRegex, `^fix-\d+$`)
	task := &model.Task{Title: "fix-123"}
	assert.True(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
	assert.Equal(t, 1, e.regexCache.Len())

	task.Title = "nope"
	assert.False(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
	assert.Equal(t, 1, e.regexCache.Len(), "second evaluation should hit the cache, not add an entry")
}

func TestEvaluate_NumericComparisonCoercesNilToZero(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryEventData, "retry_count", model.OpGreaterThan, float64(-1))
	snap := snapFor(nil, nil) // "retry_count" absent from Data entirely
	// absent field resolves ok=false -> fails closed regardless of coercion
	assert.False(t, e.Evaluate(context.Background(), node, snap))

	snap2 := snapFor(nil, map[string]any{"retry_count": nil})
	assert.True(t, e.Evaluate(context.Background(), node, snap2))
}

func TestEvaluate_TypeMismatchFailsClosed(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryEventData, "count", model.OpGreaterThan, float64(1))
	snap := snapFor(nil, map[string]any{"count": "not-a-number"})
	assert.False(t, e.Evaluate(context.Background(), node, snap))
}

func TestEvaluate_InList(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryTaskProperty, "assignee", model.OpInList, []any{"alice", "bob"})
	task := &model.Task{Assignee: "bob"}
	assert.True(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))

	task.Assignee = "carol"
	assert.False(t, e.Evaluate(context.Background(), node, snapFor(task, nil)))
}

func TestEvaluate_NilNodeIsVacuouslyTrue(t *testing.T) {
	e := NewEvaluator()
	assert.True(t, e.Evaluate(context.Background(), nil, snapFor(nil, nil)))
}

func TestEvaluate_CancelledContextFailsClosed(t *testing.T) {
	e := NewEvaluator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	node := model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "completed")
	task := &model.Task{Status: model.StatusCompleted}
	assert.False(t, e.Evaluate(ctx, node, snapFor(task, nil)))
}

func TestValidate_RejectsExcessiveDepth(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "x")
	for i := 0; i < MaxDepth+1; i++ {
		node = model.Not(node)
	}
	err := e.Validate(node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestValidate_RejectsExcessiveLeafCount(t *testing.T) {
	e := NewEvaluator()
	leaves := make([]*model.Node, 0, MaxLeaves+1)
	for i := 0; i < MaxLeaves+1; i++ {
		leaves = append(leaves, model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "x"))
	}
	err := e.Validate(model.And(leaves...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaves")
}

func TestValidate_RejectsForbiddenFieldSubstrings(t *testing.T) {
	e := NewEvaluator()
	for _, field := range []string{"__proto__", "os.exec", "importlib", "a.eval.b"} {
		node := model.Leaf(model.CategoryEventData, field, model.OpEquals, "x")
		err := e.Validate(node)
		require.Error(t, err, field)
	}
}

func TestValidate_RejectsMalformedFieldPath(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryEventData, "bad field!", model.OpEquals, "x")
	err := e.Validate(node)
	require.Error(t, err)
}

func TestValidate_RejectsOverlongRegex(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryEventData, "field", model.OpMatchesRegex, strings.Repeat("a", MaxRegexLength+1))
	err := e.Validate(node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length")
}

func TestValidate_RejectsInvalidRegexSyntax(t *testing.T) {
	e := NewEvaluator()
	node := model.Leaf(model.CategoryEventData, "field", model.OpMatchesRegex, "(unterminated")
	err := e.Validate(node)
	require.Error(t, err)
}

func TestValidate_AcceptsWellFormedTree(t *testing.T) {
	e := NewEvaluator()
	node := model.And(
		model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "completed"),
		model.Or(
			model.Leaf(model.CategoryTaskProperty, "priority", model.OpEquals, "high"),
			model.Leaf(model.CategoryEventData, "retries", model.OpGreaterEqual, float64(3)),
		),
	)
	assert.NoError(t, e.Validate(node))
}

func TestValidate_NilNodeIsValid(t *testing.T) {
	e := NewEvaluator()
	assert.NoError(t, e.Validate(nil))
}

func TestValidate_NotNodeRequiresExactlyOneChild(t *testing.T) {
	e := NewEvaluator()
	node := &model.Node{LogicalOp: model.LogicalNot, Children: []*model.Node{
		model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "a"),
		model.Leaf(model.CategoryTaskStatus, "status", model.OpEquals, "b"),
	}}
	err := e.Validate(node)
	require.Error(t, err)
}
