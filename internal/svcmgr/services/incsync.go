package services

import (
	"context"
	"fmt"

	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/svcmgr"
	"github.com/triplesync/core/internal/syncsvc"
)

// OpSyncTask, OpCleanupTask and OpBatchSync are the incremental-sync
// service's operation kinds.
const (
	OpSyncTask    = "sync_task"
	OpCleanupTask = "cleanup_task"
	OpBatchSync   = "batch_sync"
)

// IncrementalSyncService repairs tasks left in a *partial* or *error* sync
// state by re-running the same upsert/delete projections as C5, but
// initiated by the service manager rather than a direct relational write
// (spec §4.6).
type IncrementalSyncService struct {
	coord   *syncsvc.Coordinator
	enabled bool
	state   svcmgr.ServiceState
}

// NewIncrementalSyncService builds an IncrementalSyncService over coord.
func NewIncrementalSyncService(coord *syncsvc.Coordinator) *IncrementalSyncService {
	return &IncrementalSyncService{coord: coord, enabled: true, state: svcmgr.StateRunning}
}

func (s *IncrementalSyncService) Kind() model.ServiceKind    { return model.ServiceIncSync }
func (s *IncrementalSyncService) Enabled() bool              { return s.enabled }
func (s *IncrementalSyncService) State() svcmgr.ServiceState { return s.state }

func (s *IncrementalSyncService) ProcessOperation(ctx context.Context, op *model.ServiceOperation) error {
	both := []syncsvc.Target{syncsvc.TargetVector, syncsvc.TargetGraph}
	switch op.OpKind {
	case OpSyncTask:
		result := s.coord.SyncImmediate(ctx, op.TargetID, syncsvc.OpUpdate, both)
		return result.Err
	case OpCleanupTask:
		result := s.coord.SyncImmediate(ctx, op.TargetID, syncsvc.OpDelete, both)
		return result.Err
	case OpBatchSync:
		ids, _ := op.Payload["task_ids"].([]string)
		var firstErr error
		for _, id := range ids {
			result := s.coord.SyncImmediate(ctx, id, syncsvc.OpUpdate, both)
			if result.Err != nil && firstErr == nil {
				firstErr = result.Err
			}
		}
		return firstErr
	default:
		return fmt.Errorf("incremental sync service: unknown operation kind %q", op.OpKind)
	}
}

func (s *IncrementalSyncService) Stop(ctx context.Context) error {
	s.state = svcmgr.StateStopped
	return nil
}
