package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triplesync/core/internal/model"
	storegraph "github.com/triplesync/core/internal/store/graph"
	"github.com/triplesync/core/internal/store/relational"
	storevector "github.com/triplesync/core/internal/store/vector"
)

func newIndexOptFixture(t *testing.T) (*relational.Fake, *storevector.Fake, *storegraph.Fake) {
	t.Helper()
	return relational.NewFake(), storevector.NewFake(), storegraph.NewFake()
}

func TestIndexOptimizationService_OptimizeIndicesHitsAllThreeStores(t *testing.T) {
	tasks, vec, g := newIndexOptFixture(t)
	svc, err := NewIndexOptimizationService(tasks, vec, g, nil, "", 0, nil)
	require.NoError(t, err)

	err = svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: OpOptimizeIndices})
	require.NoError(t, err)
	assert.Equal(t, 1, tasks.OptimizeCalls())
	assert.Equal(t, 1, vec.OptimizeCalls())
	assert.Equal(t, 1, g.OptimizeCalls())
}

func TestIndexOptimizationService_IndividualStoreOps(t *testing.T) {
	tasks, vec, g := newIndexOptFixture(t)
	svc, err := NewIndexOptimizationService(tasks, vec, g, nil, "", 0, nil)
	require.NoError(t, err)

	require.NoError(t, svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: OpVacuumRelational}))
	require.NoError(t, svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: OpOptimizeVector}))
	require.NoError(t, svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: OpOptimizeGraph}))

	assert.Equal(t, 1, tasks.OptimizeCalls())
	assert.Equal(t, 1, vec.OptimizeCalls())
	assert.Equal(t, 1, g.OptimizeCalls())
}

func TestIndexOptimizationService_RecordChangeTriggersAtThreshold(t *testing.T) {
	tasks, vec, g := newIndexOptFixture(t)
	triggered := 0
	svc, err := NewIndexOptimizationService(tasks, vec, g, nil, "", 3, func(ctx context.Context) {
		triggered++
	})
	require.NoError(t, err)

	svc.RecordChange()
	svc.RecordChange()
	assert.Equal(t, 0, triggered)
	svc.RecordChange()
	assert.Equal(t, 1, triggered)

	svc.RecordChange()
	svc.RecordChange()
	svc.RecordChange()
	assert.Equal(t, 2, triggered)
}

func TestIndexOptimizationService_InvalidCronSpecErrors(t *testing.T) {
	tasks, vec, g := newIndexOptFixture(t)
	_, err := NewIndexOptimizationService(tasks, vec, g, nil, "not a cron spec", 0, nil)
	assert.Error(t, err)
}

func TestIndexOptimizationService_UnknownOpKindErrors(t *testing.T) {
	tasks, vec, g := newIndexOptFixture(t)
	svc, err := NewIndexOptimizationService(tasks, vec, g, nil, "", 0, nil)
	require.NoError(t, err)
	err = svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: "bogus"})
	assert.Error(t, err)
}

func TestIndexOptimizationService_StopHaltsCron(t *testing.T) {
	tasks, vec, g := newIndexOptFixture(t)
	svc, err := NewIndexOptimizationService(tasks, vec, g, nil, "@every 1h", 0, func(ctx context.Context) {})
	require.NoError(t, err)
	require.NoError(t, svc.Stop(context.Background()))
}
