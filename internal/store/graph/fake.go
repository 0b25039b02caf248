package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type nodeKey struct {
	label string
	id    string
}

type edgeKey struct {
	label        string
	fromID, toID string
}

// Fake is an in-memory Store for tests. It implements enough of the Query
// templates to exercise the graph analyzer (C6) without a real neo4j
// instance: dependencies/blocks/similar read a flat edge index; hierarchy
// (breadth-first) and cycle detection (depth-first) walk the in-memory
// adjacency with bounded traversals,
// mirroring the bounded Cypher path queries the real adapter issues.
type Fake struct {
	mu    sync.Mutex
	nodes map[nodeKey]map[string]any
	edges map[edgeKey]map[string]any
	// adjacency[label][fromID] -> set of toID, for quick traversal.
	adjacency     map[string]map[string]map[string]bool
	optimizeCalls int
}

// NewFake returns an empty in-memory graph store.
func NewFake() *Fake {
	return &Fake{
		nodes:     make(map[nodeKey]map[string]any),
		edges:     make(map[edgeKey]map[string]any),
		adjacency: make(map[string]map[string]map[string]bool),
	}
}

func (f *Fake) UpsertNode(ctx context.Context, label string, id string, properties map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]any, len(properties))
	for k, v := range properties {
		cp[k] = v
	}
	f.nodes[nodeKey{label, id}] = cp
	return nil
}

func (f *Fake) UpsertEdge(ctx context.Context, label string, fromLabel, fromID, toLabel, toID string, properties map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]any, len(properties))
	for k, v := range properties {
		cp[k] = v
	}
	f.edges[edgeKey{label, fromID, toID}] = cp
	if f.adjacency[label] == nil {
		f.adjacency[label] = make(map[string]map[string]bool)
	}
	if f.adjacency[label][fromID] == nil {
		f.adjacency[label][fromID] = make(map[string]bool)
	}
	f.adjacency[label][fromID][toID] = true
	return nil
}

func (f *Fake) DeleteNodeAndEdges(ctx context.Context, label string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, nodeKey{label, id})
	for k := range f.edges {
		if k.fromID == id || k.toID == id {
			delete(f.edges, k)
		}
	}
	for _, byFrom := range f.adjacency {
		delete(byFrom, id)
		for from, tos := range byFrom {
			delete(tos, id)
			if len(tos) == 0 {
				delete(byFrom, from)
			}
		}
	}
	return nil
}

// HasNode reports whether label/id currently exists, for test assertions
// (spec §8 invariant 8: delete implies no Task{id} node exists).
func (f *Fake) HasNode(label, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[nodeKey{label, id}]
	return ok
}

func (f *Fake) Query(ctx context.Context, template QueryTemplate, params map[string]any) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, _ := params["id"].(string)
	switch template {
	case QueryDependencies:
		return f.edgeRows(RelDependsOn, id), nil
	case QueryBlocks:
		return f.edgeRows(RelBlocks, id), nil
	case QuerySimilar:
		minScore, _ := params["min_score"].(float64)
		limit, _ := params["limit"].(int)
		return f.similarRows(id, minScore, limit), nil
	case QueryHierarchy:
		maxDepth := 5
		if v, ok := params["max_depth"].(int); ok && v > 0 {
			maxDepth = v
		}
		return f.hierarchyRows(id, maxDepth), nil
	case QueryCycles:
		return f.cycleRows(id), nil
	default:
		return nil, fmt.Errorf("graph fake: unknown query template %q", template)
	}
}

func (f *Fake) edgeRows(label, fromID string) []Row {
	var rows []Row
	for toID := range f.adjacency[label][fromID] {
		props := f.edges[edgeKey{label, fromID, toID}]
		nodeProps := f.nodes[nodeKey{LabelTask, toID}]
		row := Row{"id": toID}
		if nodeProps != nil {
			row["title"] = nodeProps["title"]
			row["status"] = nodeProps["status"]
			row["created_at"] = nodeProps["created_at"]
		}
		if props != nil {
			for k, v := range props {
				row[k] = v
			}
		}
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows
}

func (f *Fake) similarRows(fromID string, minScore float64, limit int) []Row {
	var rows []Row
	for toID := range f.adjacency[RelSimilarContent][fromID] {
		props := f.edges[edgeKey{RelSimilarContent, fromID, toID}]
		score, _ := props["similarity_score"].(float64)
		if score < minScore {
			continue
		}
		nodeProps := f.nodes[nodeKey{LabelTask, toID}]
		row := Row{"id": toID, "similarity_score": score}
		if nodeProps != nil {
			row["title"] = nodeProps["title"]
		}
		rows = append(rows, row)
	}
	sortRows(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// hierarchyRows walks ParentChild edges backward (children pointing to
// parent) up to maxDepth, mirroring the Cypher
// "(root)<-[:ParentChild*1..n]-(child)" pattern.
func (f *Fake) hierarchyRows(rootID string, maxDepth int) []Row {
	// Build reverse adjacency: parent -> children via ParentChild edges
	// stored as child -> parent in adjacency[RelParentChild].
	childrenOf := make(map[string][]string)
	for childID, parents := range f.adjacency[RelParentChild] {
		for parentID := range parents {
			childrenOf[parentID] = append(childrenOf[parentID], childID)
		}
	}

	var rows []Row
	type frame struct {
		id    string
		depth int
	}
	queue := []frame{{rootID, 0}}
	visited := map[string]bool{rootID: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, childID := range childrenOf[cur.id] {
			if visited[childID] {
				continue
			}
			visited[childID] = true
			depth := cur.depth + 1
			props := f.nodes[nodeKey{LabelTask, childID}]
			row := Row{"id": childID, "depth": depth}
			if props != nil {
				row["title"] = props["title"]
			}
			rows = append(rows, row)
			queue = append(queue, frame{childID, depth})
		}
	}
	sortRows(rows)
	return rows
}

// cycleRows performs a bounded DFS (length 1..10) over DependsOn edges
// looking for any path back to rootID, mirroring the Cypher
// "(t)-[:DependsOn*1..10]->(t)" pattern.
func (f *Fake) cycleRows(rootID string) []Row {
	const maxLen = 10
	var cycles []Row
	var path []string
	var walk func(node string)
	walk = func(node string) {
		if len(path) >= maxLen {
			return
		}
		for next := range f.adjacency[RelDependsOn][node] {
			path = append(path, next)
			if next == rootID {
				found := make([]string, len(path))
				copy(found, path)
				cycles = append(cycles, Row{"node_ids": append([]string{rootID}, found...)})
			} else {
				walk(next)
			}
			path = path[:len(path)-1]
		}
	}
	walk(rootID)
	return cycles
}

func (f *Fake) Optimize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optimizeCalls++
	return nil
}

// OptimizeCalls reports how many times Optimize has been invoked, for test
// assertions.
func (f *Fake) OptimizeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.optimizeCalls
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		idI, _ := rows[i]["id"].(string)
		idJ, _ := rows[j]["id"].(string)
		return idI < idJ
	})
}
