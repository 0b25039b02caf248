package errors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryRegistry_SpecificBeatsGeneric(t *testing.T) {
	r := NewRecoveryRegistry(0, 0, nil)

	var called string
	r.RegisterGeneric(KindConnectionFailed, func(ctx context.Context, err *TripleDBError, diag map[string]any) bool {
		called = "generic"
		return true
	})
	r.Register(KindConnectionFailed, StoreVector, func(ctx context.Context, err *TripleDBError, diag map[string]any) bool {
		called = "specific"
		return true
	})

	ok := r.Handle(context.Background(), NewConnectionFailed(StoreVector, "upsert", assertErr()), nil)
	require.True(t, ok)
	assert.Equal(t, "specific", called)
}

func TestRecoveryRegistry_FallsBackToGeneric(t *testing.T) {
	r := NewRecoveryRegistry(0, 0, nil)
	var called bool
	r.RegisterGeneric(KindSyncFailed, func(ctx context.Context, err *TripleDBError, diag map[string]any) bool {
		called = true
		return true
	})

	ok := r.Handle(context.Background(), NewSyncFailed(StoreGraph, "reconcile", assertErr()), nil)
	assert.True(t, ok)
	assert.True(t, called)
}

func TestRecoveryRegistry_NoRecoveryReturnsFalse(t *testing.T) {
	r := NewRecoveryRegistry(0, 0, nil)
	ok := r.Handle(context.Background(), NewSchemaInvalid(StoreRelational, "migrate", assertErr()), nil)
	assert.False(t, ok)
}

func TestRecoveryRegistry_HistoryIsBounded(t *testing.T) {
	r := NewRecoveryRegistry(3, 0, nil)
	for i := 0; i < 10; i++ {
		r.Handle(context.Background(), NewSyncFailed(StoreVector, "upsert", assertErr()), nil)
	}
	assert.Len(t, r.History(), 3)
}

func TestRecoveryRegistry_DegradedTracksUnderlyingTracker(t *testing.T) {
	r := NewRecoveryRegistry(0, 0, nil)
	assert.False(t, r.Degraded())
	for i := 0; i < 4; i++ {
		critical := NewSchemaInvalid(StoreRelational, "migrate", assertErr())
		critical.Severity = SeverityCritical
		r.Handle(context.Background(), critical, nil)
	}
	assert.True(t, r.Degraded())
}

func TestRecoveryRegistry_NilErrorIsNoop(t *testing.T) {
	r := NewRecoveryRegistry(0, 0, nil)
	assert.True(t, r.Handle(context.Background(), nil, nil))
	assert.Empty(t, r.History())
}

func assertErr() error {
	return errSentinel{}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }
