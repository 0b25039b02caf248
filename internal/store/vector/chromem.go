package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	tserrors "github.com/triplesync/core/internal/errors"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/resource"
)

// CollectionName is the single logical collection name from spec §9.2.
const CollectionName = "tasks_content"

// ChromemStore is the chromem-go embedded implementation of Store.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	resources  *resource.Manager
	breaker    *tserrors.CircuitBreaker
	logger     logging.Logger
}

// NewChromemStore opens (or creates) the tasks_content collection against an
// in-process chromem-go database, using embeddingFunc to vectorize content.
// Embedding model selection is explicitly out of scope for this core (spec
// §1); callers supply whichever chromem.EmbeddingFunc backs their deployment.
func NewChromemStore(db *chromem.DB, embeddingFunc chromem.EmbeddingFunc, resources *resource.Manager, breaker *tserrors.CircuitBreaker, logger logging.Logger) (*ChromemStore, error) {
	col, err := db.GetOrCreateCollection(CollectionName, nil, embeddingFunc)
	if err != nil {
		return nil, tserrors.NewConnectionFailed(tserrors.StoreVector, "get_collection", err)
	}
	return &ChromemStore{
		db:         db,
		collection: col,
		resources:  resources,
		breaker:    breaker,
		logger:     logging.OrNop(logger).With("vector-store"),
	}, nil
}

func toChromemMetadata(m Metadata) map[string]string {
	out := map[string]string{
		"task_id":           m.TaskID,
		"title":             m.Title,
		"content_hash":      m.ContentHash,
		"project_id":        m.ProjectID,
		"parent_task_id":    m.ParentTaskID,
		"feature":           m.Feature,
		"status":            m.Status,
		"priority":          m.Priority,
		"created_at":        m.CreatedAt,
		"updated_at":        m.UpdatedAt,
		"complexity":        m.Complexity,
		"estimated_effort":  m.EstimatedEffort,
		"assignee":          m.Assignee,
		"assigned_role":     m.AssignedRole,
		"embedding_version": strconv.Itoa(m.EmbeddingVersion),
		"embedded_at":       m.EmbeddedAt,
	}
	if len(m.Tags) > 0 {
		out["tags"] = strings.Join(m.Tags, ",")
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

func (s *ChromemStore) withConn(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	release, err := s.resources.Acquire(ctx, tserrors.StoreVector)
	if err != nil {
		return err
	}
	defer release()
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return tserrors.NewEmbeddingFailed(op, err)
		}
		return nil
	})
}

// Upsert implements Store.Upsert: chromem-go's AddDocument replaces any
// existing document with the same id, giving update-if-present/add-if-not
// semantics for free.
func (s *ChromemStore) Upsert(ctx context.Context, docID string, text string, metadata Metadata) error {
	if metadata.TaskID == "" {
		return tserrors.NewSchemaInvalid(tserrors.StoreVector, "upsert", fmt.Errorf("metadata.TaskID is required"))
	}
	return s.withConn(ctx, "upsert", func(ctx context.Context) error {
		return s.collection.AddDocument(ctx, chromem.Document{
			ID:       docID,
			Content:  text,
			Metadata: toChromemMetadata(metadata),
		})
	})
}

// Delete implements Store.Delete; chromem-go's delete-by-id is a no-op for
// an absent id, matching the "must succeed if id is absent" contract.
func (s *ChromemStore) Delete(ctx context.Context, docID string) error {
	return s.withConn(ctx, "delete", func(ctx context.Context) error {
		return s.collection.Delete(ctx, nil, nil, docID)
	})
}

// Count reports the number of documents currently in the collection, used
// by the index-optimization service's diagnostics.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// Optimize is a no-op for chromem-go: the library keeps its index
// in-memory with no separate compaction step, so maintenance here is
// limited to logging the collection's document count once per pass.
func (s *ChromemStore) Optimize(ctx context.Context) error {
	s.logger.Info("vector store optimize pass: %d documents", s.collection.Count())
	return nil
}
