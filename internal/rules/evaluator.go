// Package rules implements the condition evaluator (C8) and the auto-append
// engine (C9), grounded on the condition/logical-expression shape mined from
// original_source/.../condition_evaluator.py and the teacher's LRU-cache
// usage pattern (hashicorp/golang-lru/v2, used elsewhere in its go.mod).
package rules

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/triplesync/core/internal/model"
)

const (
	// MaxDepth is the tree-depth safety limit (spec §4.3, §8 invariant 7).
	MaxDepth = 20
	// MaxLeaves is the per-rule leaf-count safety limit.
	MaxLeaves = 50
	// MaxRegexLength bounds a matches_regex pattern's length.
	MaxRegexLength = 1000
	// regexCacheSize bounds the compiled-regex LRU.
	regexCacheSize = 100
)

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

var forbiddenSubstrings = []string{"__", "eval", "exec", "import"}

// Snapshot is the (event, optional task) pair a condition tree evaluates
// against.
type Snapshot struct {
	Event model.Event
	Task  *model.Task // nil if no task snapshot was fetched
}

// Evaluator evaluates condition trees with the safety limits from spec §4.3.
type Evaluator struct {
	regexCache *lru.Cache[string, *regexp.Regexp]
}

// NewEvaluator builds an Evaluator with an LRU regex cache of regexCacheSize.
func NewEvaluator() *Evaluator {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Evaluator{regexCache: cache}
}

// Validate checks a condition tree's structural safety limits ahead of rule
// registration (spec §4.3: "failure of any validation rule during rule
// registration rejects the whole rule"). It does not evaluate the tree.
func (e *Evaluator) Validate(node *model.Node) error {
	if node == nil {
		return nil
	}
	if depth := node.Depth(); depth > MaxDepth {
		return fmt.Errorf("rules: condition tree depth %d exceeds max %d", depth, MaxDepth)
	}
	if leaves := node.LeafCount(); leaves > MaxLeaves {
		return fmt.Errorf("rules: condition tree has %d leaves, exceeds max %d", leaves, MaxLeaves)
	}
	return e.validateNode(node)
}

func (e *Evaluator) validateNode(node *model.Node) error {
	if node.IsLeaf {
		if !fieldPathPattern.MatchString(node.Field) {
			return fmt.Errorf("rules: field path %q does not match %s", node.Field, fieldPathPattern.String())
		}
		lower := strings.ToLower(node.Field)
		for _, bad := range forbiddenSubstrings {
			if strings.Contains(lower, bad) {
				return fmt.Errorf("rules: field path %q contains forbidden substring %q", node.Field, bad)
			}
		}
		if node.Op == model.OpMatchesRegex {
			pattern, ok := node.Value.(string)
			if !ok {
				return fmt.Errorf("rules: matches_regex value must be a string")
			}
			if len(pattern) > MaxRegexLength {
				return fmt.Errorf("rules: regex pattern length %d exceeds max %d", len(pattern), MaxRegexLength)
			}
			if _, err := e.compile(pattern); err != nil {
				return fmt.Errorf("rules: invalid regex %q: %w", pattern, err)
			}
		}
		return nil
	}

	if node.LogicalOp == model.LogicalNot && len(node.Children) != 1 {
		return fmt.Errorf("rules: 'not' node must have exactly one child, got %d", len(node.Children))
	}
	for _, child := range node.Children {
		if err := e.validateNode(child); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if e.regexCache != nil {
		if re, ok := e.regexCache.Get(pattern); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if e.regexCache != nil {
		e.regexCache.Add(pattern, re)
	}
	return re, nil
}

// Evaluate runs the condition tree against snap, honoring ctx's soft
// deadline between leaf evaluations (spec §4.3, §5). Evaluation is
// fail-closed: any per-leaf error yields false rather than propagating.
func (e *Evaluator) Evaluate(ctx context.Context, node *model.Node, snap Snapshot) bool {
	if node == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if node.IsLeaf {
		return e.evaluateLeaf(node, snap)
	}
	switch node.LogicalOp {
	case model.LogicalNot:
		if len(node.Children) != 1 {
			return false
		}
		return !e.Evaluate(ctx, node.Children[0], snap)
	case model.LogicalAnd:
		for _, child := range node.Children {
			if ctx.Err() != nil {
				return false
			}
			if !e.Evaluate(ctx, child, snap) {
				return false
			}
		}
		return true
	case model.LogicalOr:
		for _, child := range node.Children {
			if ctx.Err() != nil {
				return false
			}
			if e.Evaluate(ctx, child, snap) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (e *Evaluator) evaluateLeaf(node *model.Node, snap Snapshot) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()

	actual, ok := resolveField(node.Category, node.Field, snap)
	if !ok {
		return false
	}
	return compare(node.Op, actual, node.Value, e)
}

// resolveField dispatches on category to find the field path's value
// against the event or task snapshot.
func resolveField(category model.ConditionCategory, field string, snap Snapshot) (any, bool) {
	switch category {
	case model.CategoryEventType:
		return string(snap.Event.Kind), true
	case model.CategoryEventData:
		return snap.Event.Field(field)
	case model.CategoryTaskStatus:
		if snap.Task == nil {
			return nil, false
		}
		return string(snap.Task.Status), true
	case model.CategoryTaskType:
		if snap.Task == nil {
			return nil, false
		}
		return snap.Task.Type, true
	case model.CategoryComplexity:
		if snap.Task == nil {
			return nil, false
		}
		return string(snap.Task.Metadata.Complexity), true
	case model.CategorySpecialistType:
		if snap.Task == nil {
			return nil, false
		}
		v, ok := snap.Task.Metadata.Tags, len(snap.Task.Metadata.Tags) > 0
		if !ok {
			return nil, false
		}
		return v, true
	case model.CategoryTaskProperty:
		return resolveTaskProperty(field, snap.Task)
	case model.CategoryTimeBased:
		return snap.Event.Timestamp, true
	case model.CategoryCustom:
		return snap.Event.Field(field)
	default:
		return snap.Event.Field(field)
	}
}

func resolveTaskProperty(field string, task *model.Task) (any, bool) {
	if task == nil {
		return nil, false
	}
	switch field {
	case "title":
		return task.Title, true
	case "description":
		return task.Description, true
	case "status":
		return string(task.Status), true
	case "priority":
		return string(task.Priority), true
	case "type":
		return task.Type, true
	case "project_id":
		return task.ProjectID, true
	case "parent_id":
		return task.ParentID, true
	case "feature":
		return task.Feature, true
	case "milestone":
		return task.Milestone, true
	case "assignee":
		return task.Assignee, true
	case "creator":
		return task.Creator, true
	case "complexity":
		return string(task.Metadata.Complexity), true
	default:
		return nil, false
	}
}

// compare applies op to (actual, expected); numeric comparisons coerce nil
// to 0 and type mismatches yield false (spec §4.3).
func compare(op model.Operator, actual, expected any, e *Evaluator) bool {
	switch op {
	case model.OpEquals:
		return fmt.Sprint(actual) == fmt.Sprint(expected)
	case model.OpNotEquals:
		return fmt.Sprint(actual) != fmt.Sprint(expected)
	case model.OpContains:
		return strings.Contains(toString(actual), toString(expected))
	case model.OpNotContains:
		return !strings.Contains(toString(actual), toString(expected))
	case model.OpStartsWith:
		return strings.HasPrefix(toString(actual), toString(expected))
	case model.OpEndsWith:
		return strings.HasSuffix(toString(actual), toString(expected))
	case model.OpMatchesRegex:
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		re, err := e.compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(toString(actual))
	case model.OpGreaterThan:
		a, b, ok := toFloats(actual, expected)
		return ok && a > b
	case model.OpLessThan:
		a, b, ok := toFloats(actual, expected)
		return ok && a < b
	case model.OpGreaterEqual:
		a, b, ok := toFloats(actual, expected)
		return ok && a >= b
	case model.OpLessEqual:
		a, b, ok := toFloats(actual, expected)
		return ok && a <= b
	case model.OpInList:
		return inList(actual, expected)
	case model.OpNotInList:
		return !inList(actual, expected)
	default:
		return false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toFloats(actual, expected any) (float64, float64, bool) {
	a, aok := toFloat(actual)
	b, bok := toFloat(expected)
	return a, b, aok && bok
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, true
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func inList(actual, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		if strs, ok := expected.([]string); ok {
			for _, s := range strs {
				if s == toString(actual) {
					return true
				}
			}
			return false
		}
		return false
	}
	for _, v := range list {
		if fmt.Sprint(v) == fmt.Sprint(actual) {
			return true
		}
	}
	return false
}
