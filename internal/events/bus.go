// Package events implements the single-process publish/subscribe event bus
// (spec §4.4): a bounded ring buffer, a single dispatcher goroutine, and
// concurrent per-event listener fan-out via golang.org/x/sync/errgroup,
// grounded on the teacher's cron/worker lifecycle idiom
// (internal/app/scheduler/scheduler.go: stopOnce, Start/Stop/Done channel).
package events

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
)

// Listener receives dispatched events. Implementations must not block
// indefinitely; a listener that panics or returns an error is isolated from
// its siblings (spec §8 invariant 6).
type Listener func(ctx context.Context, event model.Event) error

// DefaultHistorySize is the bounded ring size of the diagnostic history
// (spec §4.4, §3: default 1000). The bus keeps no separate replay buffer.
const DefaultHistorySize = 1000

// DefaultQueueSize bounds the pending-dispatch channel.
const DefaultQueueSize = 1000

type subscription struct {
	kind     model.EventKind
	listener Listener
	id       int
}

// Bus is the event publish/subscribe implementation.
type Bus struct {
	mu            sync.RWMutex
	listeners     map[model.EventKind][]subscription
	nextSubID     int
	subscribedIDs map[model.EventKind]map[int]bool // idempotent per (kind, listener) dedup key tracking

	history    []model.Event
	historyCap int

	queue  chan model.Event
	logger logging.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	stopped sync.Once
}

// New builds a Bus with the given bounded history/queue size (both default
// to DefaultHistorySize/DefaultQueueSize when <= 0).
func New(historySize, queueSize int, logger logging.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		listeners:     make(map[model.EventKind][]subscription),
		subscribedIDs: make(map[model.EventKind]map[int]bool),
		historyCap:    historySize,
		queue:         make(chan model.Event, queueSize),
		logger:        logging.OrNop(logger).With("event-bus"),
		done:          make(chan struct{}),
	}
}

// Subscribe registers listener for kind. Subscribing the same listener
// pointer twice for the same kind is a no-op (idempotent per (kind,
// listener), per spec §4.4); comparing func values requires a caller-
// supplied dedup token, so callers pass a stable token alongside the
// listener.
func (b *Bus) Subscribe(kind model.EventKind, token string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := hashToken(token)
	if b.subscribedIDs[kind] == nil {
		b.subscribedIDs[kind] = make(map[int]bool)
	}
	if b.subscribedIDs[kind][key] {
		return
	}
	b.subscribedIDs[kind][key] = true
	b.nextSubID++
	b.listeners[kind] = append(b.listeners[kind], subscription{kind: kind, listener: listener, id: b.nextSubID})
}

func hashToken(token string) int {
	h := 0
	for _, r := range token {
		h = h*31 + int(r)
	}
	return h
}

// Publish appends event to the bounded history and enqueues it for
// dispatch. Publish never blocks the caller on dispatch completion; if the
// queue is full the event is dropped and logged (load-shedding, matching
// the "batching, backoff and priority are the only load-shedding
// mechanisms" policy being about sync/service load — the bus itself favors
// availability over lossless delivery once its bounded queue is full).
func (b *Bus) Publish(event model.Event) {
	b.mu.Lock()
	b.appendHistory(event)
	b.mu.Unlock()

	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event queue full, dropping event kind=%s task_id=%s", event.Kind, event.TaskID)
	}
}

func (b *Bus) appendHistory(event model.Event) {
	b.history = append(b.history, event)
	if len(b.history) > b.historyCap {
		b.history = append([]model.Event{}, b.history[len(b.history)-b.historyCap:]...)
	}
}

// Start launches the single dispatcher goroutine.
func (b *Bus) Start(ctx context.Context) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.dispatchLoop(dispatchCtx)
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.dispatch(ctx, event)
		}
	}
}

// dispatch invokes every listener subscribed to event.Kind concurrently,
// isolating panics/errors per listener via errgroup (siblings still run).
func (b *Bus) dispatch(ctx context.Context, event model.Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.listeners[event.Kind]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		listener := sub.listener
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("listener panicked for event kind=%s: %v", event.Kind, r)
					err = nil
				}
			}()
			if lerr := listener(gCtx, event); lerr != nil {
				b.logger.Warn("listener error for event kind=%s: %v", event.Kind, lerr)
			}
			return nil
		})
	}
	_ = g.Wait() // listener errors are logged, never aborted; Wait only surfaces ctx cancellation
}

// Stop cancels the dispatcher and waits for it to exit.
func (b *Bus) Stop() {
	b.stopped.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		<-b.done
	})
}

// History returns up to limit events, optionally filtered by kind and/or
// task id, most recent first.
func (b *Bus) History(kind model.EventKind, taskID string, limit int) []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []model.Event
	for i := len(b.history) - 1; i >= 0; i-- {
		e := b.history[i]
		if kind != "" && e.Kind != kind {
			continue
		}
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
