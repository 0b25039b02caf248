package services

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
	"github.com/triplesync/core/internal/syncsvc"
)

func newTestTask(id string) *model.Task {
	now := time.Now()
	return &model.Task{
		ID: id, Title: "Task " + id, Description: "desc",
		Status: model.StatusPending, Priority: model.PriorityNormal,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestEmbeddingService_EmbedTaskUpsertsIntoVectorStore(t *testing.T) {
	tasks := relational.NewFake()
	vec := storevector.NewFake()
	g := storegraph.NewFake()
	coord := syncsvc.New(syncsvc.DefaultConfig(), tasks, vec, g, nil)

	require.NoError(t, tasks.CreateTask(context.Background(), newTestTask("T1")))

	svc := NewEmbeddingService(coord)
	err := svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: OpEmbedTask, TargetID: "T1"})
	require.NoError(t, err)
	assert.True(t, vec.Has("T1"))
}

func TestEmbeddingService_BatchEmbedProcessesEachID(t *testing.T) {
	tasks := relational.NewFake()
	vec := storevector.NewFake()
	g := storegraph.NewFake()
	coord := syncsvc.New(syncsvc.DefaultConfig(), tasks, vec, g, nil)

	require.NoError(t, tasks.CreateTask(context.Background(), newTestTask("A")))
	require.NoError(t, tasks.CreateTask(context.Background(), newTestTask("B")))

	svc := NewEmbeddingService(coord)
	err := svc.ProcessOperation(context.Background(), &model.ServiceOperation{
		OpKind:  OpBatchEmbed,
		Payload: map[string]any{"task_ids": []string{"A", "B"}},
	})
	require.NoError(t, err)
	assert.True(t, vec.Has("A"))
	assert.True(t, vec.Has("B"))
}

func TestEmbeddingService_UnknownOpKindErrors(t *testing.T) {
	coord := syncsvc.New(syncsvc.DefaultConfig(), relational.NewFake(), storevector.NewFake(), storegraph.NewFake(), nil)
	svc := NewEmbeddingService(coord)
	err := svc.ProcessOperation(context.Background(), &model.ServiceOperation{OpKind: "bogus"})
	assert.Error(t, err)
}
