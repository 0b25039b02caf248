package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triplesync/core/internal/model"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}

func TestBus_PublishDispatchesToSubscribedListener(t *testing.T) {
	b := New(0, 0, nil)
	b.Start(context.Background())
	defer b.Stop()

	var received atomic.Int32
	b.Subscribe(model.EventCreated, "listener-1", func(ctx context.Context, e model.Event) error {
		received.Add(1)
		return nil
	})

	b.Publish(model.Event{Kind: model.EventCreated, TaskID: "t1", Timestamp: time.Now()})

	waitFor(t, time.Second, func() bool { return received.Load() == 1 })
}

func TestBus_ListenerErrorDoesNotAffectSiblings(t *testing.T) {
	b := New(0, 0, nil)
	b.Start(context.Background())
	defer b.Stop()

	var sibling atomic.Bool
	b.Subscribe(model.EventFailed, "bad", func(ctx context.Context, e model.Event) error {
		return fmt.Errorf("boom")
	})
	b.Subscribe(model.EventFailed, "good", func(ctx context.Context, e model.Event) error {
		sibling.Store(true)
		return nil
	})

	b.Publish(model.Event{Kind: model.EventFailed, TaskID: "t1", Timestamp: time.Now()})

	waitFor(t, time.Second, sibling.Load)
}

func TestBus_ListenerPanicDoesNotAffectSiblings(t *testing.T) {
	b := New(0, 0, nil)
	b.Start(context.Background())
	defer b.Stop()

	var sibling atomic.Bool
	b.Subscribe(model.EventFailed, "panicker", func(ctx context.Context, e model.Event) error {
		panic("boom")
	})
	b.Subscribe(model.EventFailed, "good", func(ctx context.Context, e model.Event) error {
		sibling.Store(true)
		return nil
	})

	b.Publish(model.Event{Kind: model.EventFailed, TaskID: "t1", Timestamp: time.Now()})

	waitFor(t, time.Second, sibling.Load)
}

func TestBus_SubscribeIsIdempotentPerKindAndToken(t *testing.T) {
	b := New(0, 0, nil)
	b.Start(context.Background())
	defer b.Stop()

	var count atomic.Int32
	listener := func(ctx context.Context, e model.Event) error {
		count.Add(1)
		return nil
	}
	b.Subscribe(model.EventCreated, "dup", listener)
	b.Subscribe(model.EventCreated, "dup", listener)

	b.Publish(model.Event{Kind: model.EventCreated, TaskID: "t1", Timestamp: time.Now()})

	waitFor(t, time.Second, func() bool { return count.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, count.Load())
}

func TestBus_HistoryFiltersByKindAndTaskID(t *testing.T) {
	b := New(10, 10, nil)
	b.Publish(model.Event{Kind: model.EventCreated, TaskID: "a", Timestamp: time.Now()})
	b.Publish(model.Event{Kind: model.EventCompleted, TaskID: "b", Timestamp: time.Now()})
	b.Publish(model.Event{Kind: model.EventCreated, TaskID: "b", Timestamp: time.Now()})

	created := b.History(model.EventCreated, "", 0)
	require.Len(t, created, 2)

	forB := b.History("", "b", 0)
	require.Len(t, forB, 2)

	createdForB := b.History(model.EventCreated, "b", 0)
	require.Len(t, createdForB, 1)
}

func TestBus_HistoryIsBoundedAndKeepsMostRecent(t *testing.T) {
	b := New(3, 10, nil)
	for i := 0; i < 5; i++ {
		b.Publish(model.Event{Kind: model.EventCreated, TaskID: fmt.Sprintf("t%d", i), Timestamp: time.Now()})
	}
	all := b.History("", "", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "t4", all[0].TaskID)
	assert.Equal(t, "t2", all[2].TaskID)
}

func TestBus_ListenerOrderPerListenerIsPublishOrder(t *testing.T) {
	b := New(0, 0, nil)
	b.Start(context.Background())
	defer b.Stop()

	var mu sync.Mutex
	var seen []string
	b.Subscribe(model.EventCreated, "order", func(ctx context.Context, e model.Event) error {
		mu.Lock()
		seen = append(seen, e.TaskID)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		b.Publish(model.Event{Kind: model.EventCreated, TaskID: fmt.Sprintf("t%d", i), Timestamp: time.Now()})
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 10
	})

	mu.Lock()
	defer mu.Unlock()
	for i, id := range seen {
		assert.Equal(t, fmt.Sprintf("t%d", i), id)
	}
}
