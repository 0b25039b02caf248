package syncsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triplesync/core/internal/model"
	storegraph "github.com/triplesync/core/internal/store/graph"
	"github.com/triplesync/core/internal/store/relational"
	storevector "github.com/triplesync/core/internal/store/vector"
)

func newTestTask(id string) *model.Task {
	now := time.Now()
	return &model.Task{
		ID: id, Title: "Task " + id, Description: "desc",
		Status: model.StatusPending, Priority: model.PriorityNormal,
		CreatedAt: now, UpdatedAt: now,
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, relational.Store, *storevector.Fake, *storegraph.Fake) {
	t.Helper()
	tasks := relational.NewFake()
	vec := storevector.NewFake()
	g := storegraph.NewFake()
	coord := New(DefaultConfig(), tasks, vec, g, nil)
	return coord, tasks, vec, g
}

func TestSyncImmediate_CreateSyncsBothStoresAndReconcilesSynced(t *testing.T) {
	coord, tasks, vec, g := newTestCoordinator(t)
	ctx := context.Background()
	task := newTestTask("T1")
	require.NoError(t, tasks.CreateTask(ctx, task))

	result := coord.SyncImmediate(ctx, "T1", OpCreate, []Target{TargetVector, TargetGraph})
	require.NoError(t, result.Err)
	assert.Equal(t, model.SyncSynced, result.Overall)
	assert.True(t, result.VectorSynced)
	assert.True(t, result.GraphSynced)

	assert.True(t, vec.Has(storevector.DocID("T1")))
	assert.True(t, g.HasNode(storegraph.LabelTask, "T1"))

	stored, err := tasks.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, stored.Sync.Overall)
}

func TestSyncImmediate_DeleteRemovesFromBothStores(t *testing.T) {
	coord, tasks, vec, g := newTestCoordinator(t)
	ctx := context.Background()
	task := newTestTask("T1")
	require.NoError(t, tasks.CreateTask(ctx, task))
	require.NoError(t, vec.Upsert(ctx, storevector.DocID("T1"), "x", storevector.Metadata{TaskID: "T1"}))
	require.NoError(t, g.UpsertNode(ctx, storegraph.LabelTask, "T1", nil))

	result := coord.SyncImmediate(ctx, "T1", OpDelete, []Target{TargetVector, TargetGraph})
	require.NoError(t, result.Err)
	assert.False(t, vec.Has(storevector.DocID("T1")))
	assert.False(t, g.HasNode(storegraph.LabelTask, "T1"))
}

func TestSyncImmediate_PartialWhenOnlyOneTargetSucceeds(t *testing.T) {
	coord, tasks, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := newTestTask("T1")
	require.NoError(t, tasks.CreateTask(ctx, task))

	result := coord.SyncImmediate(ctx, "T1", OpCreate, []Target{TargetVector})
	require.NoError(t, result.Err)
	assert.Equal(t, model.SyncPartial, result.Overall)
	assert.True(t, result.VectorSynced)
	assert.False(t, result.GraphSynced)
}

func TestScheduleSync_IgnoredWhileTaskInFlight(t *testing.T) {
	coord, tasks, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	task := newTestTask("T1")
	require.NoError(t, tasks.CreateTask(ctx, task))

	coord.mu.Lock()
	coord.inFlight["T1"] = true
	coord.mu.Unlock()

	coord.ScheduleSync("T1", OpUpdate, []Target{TargetVector}, PriorityNormal)

	select {
	case <-coord.pending:
		t.Fatal("schedule_sync must be ignored while the task is in flight")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCoordinator_BatchProcessesOnSizeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.BatchWindow = time.Hour // never fires on its own
	tasks := relational.NewFake()
	vec := storevector.NewFake()
	g := storegraph.NewFake()
	coord := New(cfg, tasks, vec, g, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)
	defer coord.Stop()

	require.NoError(t, tasks.CreateTask(context.Background(), newTestTask("A")))
	require.NoError(t, tasks.CreateTask(context.Background(), newTestTask("B")))

	coord.ScheduleSync("A", OpCreate, []Target{TargetVector, TargetGraph}, PriorityNormal)
	coord.ScheduleSync("B", OpCreate, []Target{TargetVector, TargetGraph}, PriorityNormal)

	require.Eventually(t, func() bool {
		return vec.Has(storevector.DocID("A")) && vec.Has(storevector.DocID("B"))
	}, time.Second, time.Millisecond, "batch should process once size threshold is reached")
}

func TestCoordinator_BatchProcessesOnWindowElapse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.BatchWindow = 30 * time.Millisecond
	tasks := relational.NewFake()
	vec := storevector.NewFake()
	g := storegraph.NewFake()
	coord := New(cfg, tasks, vec, g, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)
	defer coord.Stop()

	require.NoError(t, tasks.CreateTask(context.Background(), newTestTask("A")))
	coord.ScheduleSync("A", OpCreate, []Target{TargetVector}, PriorityNormal)

	require.Eventually(t, func() bool {
		return vec.Has(storevector.DocID("A"))
	}, time.Second, time.Millisecond, "batch should process once the window elapses even below batch size")
}

func TestStatistics_CountsByOverallStatusAndPerStoreBooleans(t *testing.T) {
	coord, tasks, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, tasks.CreateTask(ctx, newTestTask("A")))
	require.NoError(t, tasks.CreateTask(ctx, newTestTask("B")))

	coord.SyncImmediate(ctx, "A", OpCreate, []Target{TargetVector, TargetGraph})
	coord.SyncImmediate(ctx, "B", OpCreate, []Target{TargetVector})

	stats, err := coord.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByOverallStatus[model.SyncSynced])
	assert.Equal(t, 1, stats.ByOverallStatus[model.SyncPartial])
	assert.Equal(t, 2, stats.VectorSynced)
	assert.Equal(t, 1, stats.GraphSynced)
}

func TestForceFullResync_ResetsSyncStateAndReenqueues(t *testing.T) {
	coord, tasks, vec, g := newTestCoordinator(t)
	ctx := context.Background()
	task := newTestTask("A")
	require.NoError(t, tasks.CreateTask(ctx, task))
	coord.SyncImmediate(ctx, "A", OpCreate, []Target{TargetVector, TargetGraph})

	require.NoError(t, coord.ForceFullResync(ctx))

	stored, err := tasks.GetTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, stored.Sync.Overall)
	assert.False(t, stored.Sync.VectorSynced)
	assert.False(t, stored.Sync.GraphSynced)

	select {
	case op := <-coord.pending:
		assert.Equal(t, "A", op.TaskID)
		assert.Equal(t, OpUpdate, op.Kind)
		assert.Equal(t, PriorityNormal, op.Priority)
	case <-time.After(time.Second):
		t.Fatal("expected a re-enqueued sync operation")
	}

	_ = vec
	_ = g
}

func TestBackoffDelay_MatchesExponentialCapFormula(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffDelay(1))
	assert.Equal(t, 4*time.Second, backoffDelay(2))
	assert.Equal(t, 8*time.Second, backoffDelay(3))
	assert.Equal(t, 60*time.Second, backoffDelay(10))
}
