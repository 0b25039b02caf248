package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	tserrors "github.com/triplesync/core/internal/errors"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/resource"
)

// Neo4jStore is the neo4j-go-driver implementation of Store.
type Neo4jStore struct {
	driver    neo4j.DriverWithContext
	resources *resource.Manager
	breaker   *tserrors.CircuitBreaker
	logger    logging.Logger
}

// Open connects to uri, verifies connectivity, and returns a ready
// Neo4jStore.
func Open(ctx context.Context, uri, username, password string, resources *resource.Manager, breaker *tserrors.CircuitBreaker, logger logging.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, tserrors.NewConnectionFailed(tserrors.StoreGraph, "open", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, tserrors.NewConnectionFailed(tserrors.StoreGraph, "verify_connectivity", err)
	}
	return &Neo4jStore{
		driver:    driver,
		resources: resources,
		breaker:   breaker,
		logger:    logging.OrNop(logger).With("graph-store"),
	}, nil
}

func (s *Neo4jStore) withSession(ctx context.Context, op string, mode neo4j.AccessMode, fn func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	release, err := s.resources.Acquire(ctx, tserrors.StoreGraph)
	if err != nil {
		return nil, err
	}
	defer release()

	return tserrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (any, error) {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
		defer session.Close(ctx)

		var result any
		var execErr error
		if mode == neo4j.AccessModeWrite {
			result, execErr = session.ExecuteWrite(ctx, fn)
		} else {
			result, execErr = session.ExecuteRead(ctx, fn)
		}
		if execErr != nil {
			return nil, tserrors.NewGraphOpFailed(op, execErr)
		}
		return result, nil
	})
}

func (s *Neo4jStore) UpsertNode(ctx context.Context, label string, id string, properties map[string]any) error {
	_, err := s.withSession(ctx, "upsert_node", neo4j.AccessModeWrite, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", label)
		params := map[string]any{"id": id, "props": properties}
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func (s *Neo4jStore) UpsertEdge(ctx context.Context, label string, fromLabel, fromID, toLabel, toID string, properties map[string]any) error {
	_, err := s.withSession(ctx, "upsert_edge", neo4j.AccessModeWrite, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(
			"MATCH (a:%s {id: $fromID}) MATCH (b:%s {id: $toID}) MERGE (a)-[r:%s]->(b) SET r += $props",
			fromLabel, toLabel, label,
		)
		params := map[string]any{"fromID": fromID, "toID": toID, "props": properties}
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func (s *Neo4jStore) DeleteNodeAndEdges(ctx context.Context, label string, id string) error {
	_, err := s.withSession(ctx, "delete_node_and_edges", neo4j.AccessModeWrite, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf("MATCH (n:%s {id: $id}) DETACH DELETE n", label)
		_, err := tx.Run(ctx, query, map[string]any{"id": id})
		return nil, err
	})
	return err
}

// cypherFor renders the fixed Cypher text for each known query template.
// Templates are the only query surface the graph analyzer uses (spec
// §9.3); there is no raw-query passthrough.
func cypherFor(template QueryTemplate) (string, error) {
	switch template {
	case QueryDependencies:
		return `MATCH (t:Task {id: $id})-[:DependsOn]->(d:Task)
			RETURN d.id AS id, d.title AS title, d.status AS status, $id AS dep_type, d.created_at AS created_at`, nil
	case QueryBlocks:
		return `MATCH (t:Task {id: $id})-[:Blocks]->(b:Task)
			RETURN b.id AS id, b.title AS title, b.status AS status, b.created_at AS created_at`, nil
	case QueryHierarchy:
		// Rendered with the actual depth bound in Query below — neo4j does
		// not allow parameterizing a variable-length relationship bound.
		return "", nil
	case QuerySimilar:
		return `MATCH (t:Task {id: $id})-[s:SimilarContent]->(o:Task)
			WHERE s.similarity_score >= $min_score
			RETURN o.id AS id, o.title AS title, s.similarity_score AS similarity_score
			LIMIT $limit`, nil
	case QueryCycles:
		return `MATCH path = (t:Task {id: $id})-[:DependsOn*1..10]->(t)
			RETURN [n IN nodes(path) | n.id] AS node_ids`, nil
	default:
		return "", fmt.Errorf("graph: unknown query template %q", template)
	}
}

func (s *Neo4jStore) Query(ctx context.Context, template QueryTemplate, params map[string]any) ([]Row, error) {
	cypher, err := cypherFor(template)
	if err != nil {
		return nil, tserrors.NewGraphOpFailed("query", err)
	}
	if template == QueryHierarchy {
		maxDepth := 5
		if v, ok := params["max_depth"].(int); ok && v > 0 && v <= 20 {
			maxDepth = v
		}
		cypher = fmt.Sprintf(`MATCH path = (root:Task {id: $id})<-[:ParentChild*1..%d]-(child:Task)
			RETURN child.id AS id, child.title AS title, length(path) AS depth`, maxDepth)
	}

	result, err := s.withSession(ctx, "query", neo4j.AccessModeRead, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var rows []Row
		for res.Next(ctx) {
			rec := res.Record()
			row := make(Row, len(rec.Keys))
			for _, k := range rec.Keys {
				v, _ := rec.Get(k)
				row[k] = v
			}
			rows = append(rows, row)
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, err
	}
	rows, _ := result.([]Row)
	return rows, nil
}

// Optimize creates the range index backing Task.id lookups if it is missing;
// an existing index is left as it is (spec §4.6
// index-optimization service).
func (s *Neo4jStore) Optimize(ctx context.Context) error {
	_, err := s.withSession(ctx, "optimize", neo4j.AccessModeWrite, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "CREATE INDEX task_id_index IF NOT EXISTS FOR (t:Task) ON (t.id)", nil)
		return nil, err
	})
	return err
}
