package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_DependenciesAndBlocks(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "a", map[string]any{"title": "A"}))
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "b", map[string]any{"title": "B"}))
	require.NoError(t, f.UpsertEdge(ctx, RelDependsOn, LabelTask, "a", LabelTask, "b", nil))
	require.NoError(t, f.UpsertEdge(ctx, RelBlocks, LabelTask, "a", LabelTask, "b", nil))

	deps, err := f.Query(ctx, QueryDependencies, map[string]any{"id": "a"})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "b", deps[0]["id"])

	blocks, err := f.Query(ctx, QueryBlocks, map[string]any{"id": "a"})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "b", blocks[0]["id"])
}

func TestFake_CycleDetection_FindsDirectCycle(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.UpsertEdge(ctx, RelDependsOn, LabelTask, "a", LabelTask, "b", nil))
	require.NoError(t, f.UpsertEdge(ctx, RelDependsOn, LabelTask, "b", LabelTask, "a", nil))

	rows, err := f.Query(ctx, QueryCycles, map[string]any{"id": "a"})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
}

func TestFake_CycleDetection_NoCycleWhenAcyclic(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.UpsertEdge(ctx, RelDependsOn, LabelTask, "a", LabelTask, "b", nil))
	require.NoError(t, f.UpsertEdge(ctx, RelDependsOn, LabelTask, "b", LabelTask, "c", nil))

	rows, err := f.Query(ctx, QueryCycles, map[string]any{"id": "a"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFake_Hierarchy_RespectsMaxDepth(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "root", nil))
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "child1", nil))
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "grandchild1", nil))
	// ParentChild stored child -> parent in adjacency.
	require.NoError(t, f.UpsertEdge(ctx, RelParentChild, LabelTask, "child1", LabelTask, "root", nil))
	require.NoError(t, f.UpsertEdge(ctx, RelParentChild, LabelTask, "grandchild1", LabelTask, "child1", nil))

	rows, err := f.Query(ctx, QueryHierarchy, map[string]any{"id": "root", "max_depth": 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "child1", rows[0]["id"])

	rows, err = f.Query(ctx, QueryHierarchy, map[string]any{"id": "root", "max_depth": 5})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestFake_DeleteNodeAndEdges_RemovesAdjacency(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "a", nil))
	require.NoError(t, f.UpsertNode(ctx, LabelTask, "b", nil))
	require.NoError(t, f.UpsertEdge(ctx, RelDependsOn, LabelTask, "a", LabelTask, "b", nil))

	require.NoError(t, f.DeleteNodeAndEdges(ctx, LabelTask, "b"))
	assert.False(t, f.HasNode(LabelTask, "b"))

	deps, err := f.Query(ctx, QueryDependencies, map[string]any{"id": "a"})
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestFake_Similar_FiltersByMinScoreAndLimit(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.UpsertEdge(ctx, RelSimilarContent, LabelTask, "a", LabelTask, "b", map[string]any{"similarity_score": 0.9}))
	require.NoError(t, f.UpsertEdge(ctx, RelSimilarContent, LabelTask, "a", LabelTask, "c", map[string]any{"similarity_score": 0.3}))

	rows, err := f.Query(ctx, QuerySimilar, map[string]any{"id": "a", "min_score": 0.5, "limit": 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0]["id"])
}
