package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/triplesync/core/internal/errors"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := New(Limits{RelationalCap: 2, RelationalTimeout: time.Second}, nil)

	release1, err := m.Acquire(context.Background(), tserrors.StoreRelational)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.InUse(tserrors.StoreRelational))

	release2, err := m.Acquire(context.Background(), tserrors.StoreRelational)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.InUse(tserrors.StoreRelational))

	release1()
	assert.EqualValues(t, 1, m.InUse(tserrors.StoreRelational))
	release2()
	assert.EqualValues(t, 0, m.InUse(tserrors.StoreRelational))
}

func TestManager_AcquireTimesOutWhenExhausted(t *testing.T) {
	m := New(Limits{VectorCap: 1, VectorTimeout: 50 * time.Millisecond}, nil)

	release, err := m.Acquire(context.Background(), tserrors.StoreVector)
	require.NoError(t, err)
	defer release()

	_, err = m.Acquire(context.Background(), tserrors.StoreVector)
	require.Error(t, err)
	var tdb *tserrors.TripleDBError
	require.ErrorAs(t, err, &tdb)
	assert.Equal(t, tserrors.KindConnectionFailed, tdb.Kind)
}

func TestManager_TryAcquireNonBlocking(t *testing.T) {
	m := New(Limits{GraphCap: 1}, nil)

	release, ok, err := m.TryAcquire(tserrors.StoreGraph)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := m.TryAcquire(tserrors.StoreGraph)
	require.NoError(t, err)
	assert.False(t, ok2)

	release()
	_, ok3, err := m.TryAcquire(tserrors.StoreGraph)
	require.NoError(t, err)
	assert.True(t, ok3)
}

func TestManager_UnknownStoreErrors(t *testing.T) {
	m := New(DefaultLimits(), nil)
	_, err := m.Acquire(context.Background(), tserrors.StoreUnspecified)
	require.Error(t, err)
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	m := New(Limits{RelationalCap: 1}, nil)
	release, err := m.Acquire(context.Background(), tserrors.StoreRelational)
	require.NoError(t, err)
	release()
	release()
	assert.EqualValues(t, 0, m.InUse(tserrors.StoreRelational))
}

func TestManager_ConcurrentAcquireRespectsCap(t *testing.T) {
	m := New(Limits{RelationalCap: 3, RelationalTimeout: 2 * time.Second}, nil)

	var wg sync.WaitGroup
	var maxSeen int64
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), tserrors.StoreRelational)
			if err != nil {
				return
			}
			mu.Lock()
			if cur := m.InUse(tserrors.StoreRelational); cur > maxSeen {
				maxSeen = cur
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxSeen, int64(3))
	assert.EqualValues(t, 0, m.InUse(tserrors.StoreRelational))
}
