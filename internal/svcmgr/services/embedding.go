// Package services implements the background services (C11) hosted by the
// service manager (C10): auto-embedding, cycle detection, incremental sync,
// and index optimization (spec §4.6 table).
package services

import (
	"context"
	"fmt"

	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/svcmgr"
	"github.com/triplesync/core/internal/syncsvc"
)

// OpEmbedTask and OpBatchEmbed are the embedding service's operation kinds.
const (
	OpEmbedTask  = "embed_task"
	OpBatchEmbed = "batch_embed"
)

// EmbeddingService derives embeddable content and upserts it into the
// vector store by delegating to the sync coordinator's vector-only path
// (spec §4.6: "derives the content to embed..., truncates..., and upserts
// into the vector store..., stamps last_embedded and vector-synced").
// Grounded on internal/syncsvc.Coordinator, which already implements this
// exact content-build/upsert/stamp sequence for C5; reusing it here avoids
// a second, divergent implementation of the same projection.
type EmbeddingService struct {
	coord   *syncsvc.Coordinator
	enabled bool
	state   svcmgr.ServiceState
}

// NewEmbeddingService builds an EmbeddingService over coord.
func NewEmbeddingService(coord *syncsvc.Coordinator) *EmbeddingService {
	return &EmbeddingService{coord: coord, enabled: true, state: svcmgr.StateRunning}
}

func (s *EmbeddingService) Kind() model.ServiceKind    { return model.ServiceEmbedding }
func (s *EmbeddingService) Enabled() bool              { return s.enabled }
func (s *EmbeddingService) State() svcmgr.ServiceState { return s.state }

func (s *EmbeddingService) ProcessOperation(ctx context.Context, op *model.ServiceOperation) error {
	switch op.OpKind {
	case OpEmbedTask:
		result := s.coord.SyncImmediate(ctx, op.TargetID, syncsvc.OpUpdate, []syncsvc.Target{syncsvc.TargetVector})
		return result.Err
	case OpBatchEmbed:
		ids, _ := op.Payload["task_ids"].([]string)
		var firstErr error
		for _, id := range ids {
			result := s.coord.SyncImmediate(ctx, id, syncsvc.OpUpdate, []syncsvc.Target{syncsvc.TargetVector})
			if result.Err != nil && firstErr == nil {
				firstErr = result.Err
			}
		}
		return firstErr
	default:
		return fmt.Errorf("embedding service: unknown operation kind %q", op.OpKind)
	}
}

func (s *EmbeddingService) Stop(ctx context.Context) error {
	s.state = svcmgr.StateStopped
	return nil
}
