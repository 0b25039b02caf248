// Package graph implements the read-only graph analyzer (C6): dependency,
// blocker, hierarchy, similarity and cycle-detection views over the graph
// store, grounded on spec §4.7 "reads the graph store through the adapter"
// and the neo4j-go-driver session/query idiom already used by
// internal/store/graph.Neo4jStore.
package graph

import (
	"context"
	"fmt"

	storegraph "github.com/triplesync/core/internal/store/graph"
)

// DefaultMaxDepth is the hierarchy traversal default (spec §4.7).
const DefaultMaxDepth = 5

// DefaultSimilarLimit bounds a similar() call when the caller passes 0.
const DefaultSimilarLimit = 20

// Edge is one outgoing edge row: a dependency, blocker, or hierarchy child.
type Edge struct {
	ID        string
	Title     string
	Status    string
	DepType   string
	CreatedAt any
}

// SimilarTask is a precomputed-similarity edge result.
type SimilarTask struct {
	ID              string
	Title           string
	SimilarityScore float64
}

// Cycle is one discovered depends-on cycle, as the ordered node ids walked
// from the root back to itself.
type Cycle struct {
	NodeIDs []string
}

// Analysis bundles dependencies, blockers and cycle detection for a single
// task (spec §4.7 analyze(task_id)).
type Analysis struct {
	TaskID       string
	Dependencies []Edge
	Blockers     []Edge
	Cycles       []Cycle
}

// Analyzer is the read-only graph analyzer. All operations are read-only
// and never mutate the graph store (spec §4.7).
type Analyzer struct {
	store storegraph.Store
}

// NewAnalyzer builds an Analyzer over store.
func NewAnalyzer(store storegraph.Store) *Analyzer {
	return &Analyzer{store: store}
}

// Dependencies returns taskID's outgoing depends-on edges.
func (a *Analyzer) Dependencies(ctx context.Context, taskID string) ([]Edge, error) {
	rows, err := a.store.Query(ctx, storegraph.QueryDependencies, map[string]any{"id": taskID})
	if err != nil {
		return nil, fmt.Errorf("graph: dependencies(%s): %w", taskID, err)
	}
	return edgesFromRows(rows), nil
}

// Blocks returns taskID's outgoing blocks edges.
func (a *Analyzer) Blocks(ctx context.Context, taskID string) ([]Edge, error) {
	rows, err := a.store.Query(ctx, storegraph.QueryBlocks, map[string]any{"id": taskID})
	if err != nil {
		return nil, fmt.Errorf("graph: blocks(%s): %w", taskID, err)
	}
	return edgesFromRows(rows), nil
}

// Hierarchy returns the parent-child closure from root up to maxDepth
// (<=0 defaults to DefaultMaxDepth).
func (a *Analyzer) Hierarchy(ctx context.Context, root string, maxDepth int) ([]Edge, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	rows, err := a.store.Query(ctx, storegraph.QueryHierarchy, map[string]any{"id": root, "max_depth": maxDepth})
	if err != nil {
		return nil, fmt.Errorf("graph: hierarchy(%s): %w", root, err)
	}
	return edgesFromRows(rows), nil
}

// Similar returns precomputed similarity edges from taskID with
// similarity_score >= minScore, limited to limit (<=0 defaults to
// DefaultSimilarLimit).
func (a *Analyzer) Similar(ctx context.Context, taskID string, minScore float64, limit int) ([]SimilarTask, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	rows, err := a.store.Query(ctx, storegraph.QuerySimilar, map[string]any{
		"id": taskID, "min_score": minScore, "limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: similar(%s): %w", taskID, err)
	}
	out := make([]SimilarTask, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		title, _ := row["title"].(string)
		score, _ := row["similarity_score"].(float64)
		out = append(out, SimilarTask{ID: id, Title: title, SimilarityScore: score})
	}
	return out, nil
}

// Cycles runs the bounded depends-on cycle check (length 1..10) rooted at
// taskID (spec §4.7 "analyze"/§4.6 cycle detection service).
func (a *Analyzer) Cycles(ctx context.Context, taskID string) ([]Cycle, error) {
	rows, err := a.store.Query(ctx, storegraph.QueryCycles, map[string]any{"id": taskID})
	if err != nil {
		return nil, fmt.Errorf("graph: cycles(%s): %w", taskID, err)
	}
	out := make([]Cycle, 0, len(rows))
	for _, row := range rows {
		var ids []string
		switch v := row["node_ids"].(type) {
		case []string:
			ids = v
		case []any:
			// The neo4j driver returns Cypher lists as []any.
			for _, item := range v {
				if s, ok := item.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		out = append(out, Cycle{NodeIDs: ids})
	}
	return out, nil
}

// Analyze bundles dependencies, blockers and a cycle check for taskID (spec
// §4.7 analyze(task_id)).
func (a *Analyzer) Analyze(ctx context.Context, taskID string) (*Analysis, error) {
	deps, err := a.Dependencies(ctx, taskID)
	if err != nil {
		return nil, err
	}
	blocks, err := a.Blocks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	cycles, err := a.Cycles(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Analysis{TaskID: taskID, Dependencies: deps, Blockers: blocks, Cycles: cycles}, nil
}

func edgesFromRows(rows []storegraph.Row) []Edge {
	out := make([]Edge, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		title, _ := row["title"].(string)
		status, _ := row["status"].(string)
		depType, _ := row["dep_type"].(string)
		out = append(out, Edge{ID: id, Title: title, Status: status, DepType: depType, CreatedAt: row["created_at"]})
	}
	return out
}
