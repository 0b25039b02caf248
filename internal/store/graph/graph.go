// Package graph defines the narrow adapter interface to the labeled
// property graph store (spec §9.3) plus a neo4j-go-driver implementation
// and an in-memory fake for tests.
package graph

import "context"

// Node labels (spec §9.3).
const (
	LabelTask      = "Task"
	LabelUser      = "User"
	LabelProject   = "Project"
	LabelDocument  = "Document"
	LabelKnowledge = "Knowledge"
	LabelRole      = "Role"
	LabelExecution = "Execution"
)

// Relationship labels (spec §9.3).
const (
	RelParentChild     = "ParentChild"
	RelSubtaskOf       = "SubtaskOf"
	RelDependsOn       = "DependsOn"
	RelBlocks          = "Blocks"
	RelRelatesTo       = "RelatesTo"
	RelDuplicateOf     = "DuplicateOf"
	RelAssignedTo      = "AssignedTo"
	RelExecutedBy      = "ExecutedBy"
	RelBelongsTo       = "BelongsTo"
	RelOwns            = "Owns"
	RelReferences      = "References"
	RelKnowledgeRef    = "KnowledgeReference"
	RelCreates         = "Creates"
	RelLearns          = "Learns"
	RelSimilarContent  = "SimilarContent"
	RelSemanticCluster = "SemanticCluster"
	RelSequence        = "Sequence"
	RelPrecedes        = "Precedes"
)

// QueryTemplate names a parameterized read query the graph analyzer (C6)
// issues through Store.Query. Each adapter interprets the template name
// itself; callers never pass raw query strings, matching spec §9.3's
// "query(template, params) -> rows, used only by the graph analyzer".
type QueryTemplate string

const (
	// QueryDependencies returns outgoing DependsOn edges from params["id"].
	QueryDependencies QueryTemplate = "dependencies"
	// QueryBlocks returns outgoing Blocks edges from params["id"].
	QueryBlocks QueryTemplate = "blocks"
	// QueryHierarchy returns the ParentChild closure from params["id"] up to
	// params["max_depth"].
	QueryHierarchy QueryTemplate = "hierarchy"
	// QuerySimilar returns SimilarContent edges from params["id"] with
	// similarity_score >= params["min_score"], limited to params["limit"].
	QuerySimilar QueryTemplate = "similar"
	// QueryCycles returns every DependsOn path of length 1..10 from
	// params["id"] back to itself.
	QueryCycles QueryTemplate = "cycles"
)

// Row is one result row from Query: a loosely-typed property bag, mirroring
// the neo4j driver's own record shape.
type Row map[string]any

// Store is the graph adapter contract (spec §9.3). Query is read-only and
// used only by the graph analyzer (C6); all writes go through
// UpsertNode/UpsertEdge/DeleteNodeAndEdges.
type Store interface {
	UpsertNode(ctx context.Context, label string, id string, properties map[string]any) error
	UpsertEdge(ctx context.Context, label string, fromLabel, fromID, toLabel, toID string, properties map[string]any) error
	DeleteNodeAndEdges(ctx context.Context, label string, id string) error
	Query(ctx context.Context, template QueryTemplate, params map[string]any) ([]Row, error)
	// Optimize runs adapter-defined maintenance (e.g. rebuilding indexes/
	// statistics), used by the index-optimization background service (spec
	// §4.6).
	Optimize(ctx context.Context) error
}
