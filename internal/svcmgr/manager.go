package svcmgr

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
)

// DefaultWorkerCount is the fixed worker pool size (spec §4.6).
const DefaultWorkerCount = 4

// DefaultWorkerTick is the interval workers poll the queue on.
const DefaultWorkerTick = 1 * time.Second

// DefaultSchedulerTick is the interval the promotion scheduler wakes on.
const DefaultSchedulerTick = 10 * time.Second

// DefaultMaxRetries is the per-operation retry budget.
const DefaultMaxRetries = 3

// MaxBackoff is the retry backoff cap for service-manager operations (spec
// §4.6: "same exponential backoff formula as §4.5... capped at 5 minutes").
const MaxBackoff = 5 * time.Minute

// DefaultShutdownGrace bounds how long Shutdown waits for in-flight
// operations to finish.
const DefaultShutdownGrace = 10 * time.Second

// Config tunes the manager's worker pool, scheduling and retry policy.
type Config struct {
	WorkerCount   int
	WorkerTick    time.Duration
	SchedulerTick time.Duration
	MaxRetries    int
	ShutdownGrace time.Duration
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:   DefaultWorkerCount,
		WorkerTick:    DefaultWorkerTick,
		SchedulerTick: DefaultSchedulerTick,
		MaxRetries:    DefaultMaxRetries,
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Manager is the background service manager (C10): a single priority queue
// shared by all services, drained by a fixed worker pool, with a delayed
// promotion scheduler and per-service metrics (spec §4.6).
type Manager struct {
	cfg     Config
	logger  logging.Logger
	metrics *serviceMetrics

	mu       sync.Mutex
	services map[model.ServiceKind]Service

	queue   *priorityQueue
	delayed *priorityQueue // scheduled_for set, promoted by the scheduler loop

	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown bool
}

// New builds a Manager. reg may be nil, in which case a private registry is
// used so metrics never collide across independently-constructed managers
// (matching the teacher's NewXMetricsWithRegisterer test-isolation idiom).
func New(cfg Config, logger logging.Logger, reg prometheus.Registerer) *Manager {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.WorkerTick <= 0 {
		cfg.WorkerTick = DefaultWorkerTick
	}
	if cfg.SchedulerTick <= 0 {
		cfg.SchedulerTick = DefaultSchedulerTick
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logging.OrNop(logger).With("svcmgr"),
		metrics:  newServiceMetrics(reg),
		services: make(map[model.ServiceKind]Service),
		queue:    newPriorityQueue(),
		delayed:  newPriorityQueue(),
	}
}

// Register hosts svc under the manager, keyed by its declared kind.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.Kind()] = svc
}

// Enqueue adds op to the main priority queue, unless its scheduled_for is in
// the future, in which case it is held in the delayed set until the
// scheduler loop promotes it (spec §4.6).
func (m *Manager) Enqueue(op *model.ServiceOperation) {
	if !op.Ready(time.Now()) {
		m.delayed.push(op)
		return
	}
	m.queue.push(op)
}

// ScheduleOperation enqueues op to fire after delay via a short-lived timer
// task (spec §4.6 "a separate schedule_operation(..., delay_seconds) path
// spawns a short timer task and enqueues the operation when it fires").
func (m *Manager) ScheduleOperation(op *model.ServiceOperation, delay time.Duration) {
	if delay <= 0 {
		m.Enqueue(op)
		return
	}
	time.AfterFunc(delay, func() {
		m.Enqueue(op)
	})
}

// Metrics returns the introspectable per-service counters (spec §4.6).
func (m *Manager) Metrics(kind model.ServiceKind) Metrics {
	return m.metrics.snapshot(kind)
}

// Start launches the worker pool and the delayed-operation scheduler.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.workerLoop(runCtx)
	}
	m.wg.Add(1)
	go m.schedulerLoop(runCtx)
}

func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WorkerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				op := m.queue.pop()
				if op == nil {
					break
				}
				m.runOperation(ctx, op)
			}
		}
	}
}

// schedulerLoop wakes every SchedulerTick and promotes any operation in the
// delayed set whose scheduled_for has arrived into the main queue (spec
// §4.6 "a scheduler task wakes every 10s to promote delayed operations").
func (m *Manager) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SchedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var notReady []*model.ServiceOperation
			for {
				op := m.delayed.pop()
				if op == nil {
					break
				}
				if op.Ready(now) {
					m.queue.push(op)
				} else {
					notReady = append(notReady, op)
				}
			}
			for _, op := range notReady {
				m.delayed.push(op)
			}
		}
	}
}

func (m *Manager) runOperation(ctx context.Context, op *model.ServiceOperation) {
	m.mu.Lock()
	svc, ok := m.services[op.Service]
	m.mu.Unlock()
	if !ok || !svc.Enabled() || svc.State() == StateStopped {
		m.logger.Warn("discarding operation %s for disabled/missing service %s", op.ID, op.Service)
		return
	}

	start := time.Now()
	err := svc.ProcessOperation(ctx, op)
	duration := time.Since(start)

	retried := false
	if err != nil && op.RetryCount < m.cfg.MaxRetries {
		retried = true
		op.RetryCount++
		op.LastError = err.Error()
		delay := backoffDelay(op.RetryCount)
		m.logger.Warn("operation %s (%s/%s) failed, retry %d/%d in %v: %v",
			op.ID, op.Service, op.OpKind, op.RetryCount, m.cfg.MaxRetries, delay, err)
		m.ScheduleOperation(op, delay)
	} else if err != nil {
		m.logger.Error("operation %s (%s/%s) exhausted retries: %v", op.ID, op.Service, op.OpKind, err)
	}

	m.metrics.record(op.Service, duration, err == nil, retried)
}

// backoffDelay implements spec §4.6's retry policy: the same formula as
// §4.5 (min(2^retry_count, N)), capped at 5 minutes instead of 60s.
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

// Shutdown sets the shutdown flag, cancels the worker/scheduler loops, stops
// every registered service, and waits for outstanding work up to the
// configured grace period (spec §4.6).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownGrace):
		m.logger.Warn("svcmgr: shutdown grace period elapsed with workers still draining")
	}

	m.mu.Lock()
	services := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		services = append(services, svc)
	}
	m.mu.Unlock()

	var firstErr error
	for _, svc := range services {
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
