package errors

import (
	"context"
	"sync"
	"time"

	"github.com/triplesync/core/internal/logging"
)

// RecoveryFunc attempts to recover from a typed error, returning true on
// success. The context carries diagnostic key/value pairs supplied by the
// caller of Handle.
type RecoveryFunc func(ctx context.Context, err *TripleDBError, diag map[string]any) bool

// historyRecord is a bounded snapshot of a handled error, kept for
// diagnostics only.
type historyRecord struct {
	Err *TripleDBError
	At  time.Time
}

// RecoveryRegistry is the C1 "error taxonomy and recovery registry": it maps
// error kinds (optionally scoped by store) to recovery callables, maintains
// a bounded error history, and tracks the degradation flag described in
// spec §4.1.
type RecoveryRegistry struct {
	mu     sync.Mutex
	logger logging.Logger

	// byKindAndStore recovery takes priority over byKind (generic per-store
	// fallback), matching "looks up a specific recovery, then a generic
	// per-store recovery".
	byKindAndStore map[Kind]map[Store]RecoveryFunc
	byKind         map[Kind]RecoveryFunc

	history    []historyRecord
	historyCap int

	degradation *DegradationTracker
}

// NewRecoveryRegistry builds a registry with the given bounded history size
// (spec default 1000 is reasonable for sibling bounded buffers, but the
// degradation window is time-based, so a small history cap like 500 is used
// here to keep memory bounded independent of event volume).
func NewRecoveryRegistry(historyCap int, window time.Duration, logger logging.Logger) *RecoveryRegistry {
	if historyCap <= 0 {
		historyCap = 500
	}
	return &RecoveryRegistry{
		logger:         logging.OrNop(logger).With("recovery-registry"),
		byKindAndStore: make(map[Kind]map[Store]RecoveryFunc),
		byKind:         make(map[Kind]RecoveryFunc),
		historyCap:     historyCap,
		degradation:    NewDegradationTracker(window),
	}
}

// Register installs a recovery callable for a specific (kind, store) pair.
func (r *RecoveryRegistry) Register(kind Kind, store Store, fn RecoveryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKindAndStore[kind] == nil {
		r.byKindAndStore[kind] = make(map[Store]RecoveryFunc)
	}
	r.byKindAndStore[kind][store] = fn
}

// RegisterGeneric installs a recovery callable for any store, used as a
// fallback when no (kind, store)-specific recovery is registered.
func (r *RecoveryRegistry) RegisterGeneric(kind Kind, fn RecoveryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = fn
}

// Handle records err into the bounded history, logs it at a level derived
// from its severity, looks up a recovery (specific then generic), invokes
// it, and updates the degradation flag. It returns whether recovery
// succeeded.
func (r *RecoveryRegistry) Handle(ctx context.Context, err *TripleDBError, diag map[string]any) bool {
	if err == nil {
		return true
	}

	r.mu.Lock()
	r.history = append(r.history, historyRecord{Err: err, At: err.Time})
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}
	specific := r.byKindAndStore[err.Kind]
	var fn RecoveryFunc
	if specific != nil {
		fn = specific[err.Store]
	}
	if fn == nil {
		fn = r.byKind[err.Kind]
	}
	r.mu.Unlock()

	r.logAt(err)
	r.degradation.Record(err)

	if fn == nil {
		return false
	}
	return fn(ctx, err, diag)
}

func (r *RecoveryRegistry) logAt(err *TripleDBError) {
	msg := "%s error on %s/%s: %s"
	switch err.Severity {
	case SeverityCritical, SeverityHigh:
		r.logger.Error(msg, err.Severity, err.Store, err.Op, err.Message)
	case SeverityMedium:
		r.logger.Warn(msg, err.Severity, err.Store, err.Op, err.Message)
	default:
		r.logger.Info(msg, err.Severity, err.Store, err.Op, err.Message)
	}
}

// History returns a copy of the bounded error history, most recent last.
func (r *RecoveryRegistry) History() []*TripleDBError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TripleDBError, len(r.history))
	for i, h := range r.history {
		out[i] = h.Err
	}
	return out
}

// Degraded reports the current degradation flag (spec §4.1).
func (r *RecoveryRegistry) Degraded() bool {
	return r.degradation.Active()
}
