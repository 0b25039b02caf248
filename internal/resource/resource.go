// Package resource implements the connection-budget manager: a bounded
// per-store concurrency limit that the store adapters acquire before issuing
// a call to their backing database.
package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	tserrors "github.com/triplesync/core/internal/errors"
	"github.com/triplesync/core/internal/logging"
)

// Limits configures the per-store connection budget.
type Limits struct {
	RelationalCap int
	VectorCap     int
	GraphCap      int

	RelationalTimeout time.Duration
	VectorTimeout     time.Duration
	GraphTimeout      time.Duration
}

// DefaultLimits matches spec §6.4's defaults.
func DefaultLimits() Limits {
	return Limits{
		RelationalCap:     10,
		VectorCap:         5,
		GraphCap:          5,
		RelationalTimeout: 5 * time.Second,
		VectorTimeout:     5 * time.Second,
		GraphTimeout:      5 * time.Second,
	}
}

type budget struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	cap     int64
	inUse   atomic.Int64
}

// Manager hands out bounded connection slots per store, so that a slow or
// wedged backend cannot starve the whole process of goroutines.
type Manager struct {
	mu      sync.RWMutex
	budgets map[tserrors.Store]*budget
	logger  logging.Logger
}

// New builds a Manager with the given per-store limits.
func New(limits Limits, logger logging.Logger) *Manager {
	m := &Manager{
		budgets: make(map[tserrors.Store]*budget),
		logger:  logging.OrNop(logger).With("resource-manager"),
	}
	m.set(tserrors.StoreRelational, limits.RelationalCap, limits.RelationalTimeout)
	m.set(tserrors.StoreVector, limits.VectorCap, limits.VectorTimeout)
	m.set(tserrors.StoreGraph, limits.GraphCap, limits.GraphTimeout)
	return m
}

func (m *Manager) set(store tserrors.Store, cap int, timeout time.Duration) {
	if cap <= 0 {
		cap = 1
	}
	m.budgets[store] = &budget{
		sem:     semaphore.NewWeighted(int64(cap)),
		timeout: timeout,
		cap:     int64(cap),
	}
}

// Release returns an acquired slot to its store's budget.
type Release func()

// Acquire blocks (up to the store's configured timeout, or until ctx is
// done) for a free connection slot on store, returning a Release func to call
// when the caller is done with the connection.
func (m *Manager) Acquire(ctx context.Context, store tserrors.Store) (Release, error) {
	b, err := m.budgetFor(store)
	if err != nil {
		return nil, err
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if b.timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if err := b.sem.Acquire(acquireCtx, 1); err != nil {
		return nil, tserrors.NewConnectionFailed(store, "acquire",
			fmt.Errorf("connection budget exhausted for %s: %w", store, err))
	}
	b.inUse.Add(1)
	var once sync.Once
	return func() { once.Do(func() { b.inUse.Add(-1); b.sem.Release(1) }) }, nil
}

// TryAcquire is the non-blocking variant: it returns ok=false immediately if
// no slot is free, rather than waiting.
func (m *Manager) TryAcquire(store tserrors.Store) (release Release, ok bool, err error) {
	b, err := m.budgetFor(store)
	if err != nil {
		return nil, false, err
	}
	if !b.sem.TryAcquire(1) {
		return nil, false, nil
	}
	b.inUse.Add(1)
	var once sync.Once
	return func() { once.Do(func() { b.inUse.Add(-1); b.sem.Release(1) }) }, true, nil
}

func (m *Manager) budgetFor(store tserrors.Store) (*budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.budgets[store]
	if !ok {
		return nil, tserrors.NewSchemaInvalid(store, "acquire", fmt.Errorf("no connection budget configured for store %q", store))
	}
	return b, nil
}

// InUse reports the number of slots currently checked out for store, for
// diagnostics/metrics.
func (m *Manager) InUse(store tserrors.Store) int64 {
	b, err := m.budgetFor(store)
	if err != nil {
		return 0
	}
	return b.inUse.Load()
}

// Capacity reports the configured cap for store.
func (m *Manager) Capacity(store tserrors.Store) int64 {
	b, err := m.budgetFor(store)
	if err != nil {
		return 0
	}
	return b.cap
}
