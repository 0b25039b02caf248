// Package svcmgr implements the background service manager (C10): a single
// priority work queue, a fixed worker pool, a delayed-operation scheduler,
// and per-service metrics, hosting the services in internal/svcmgr/services
// (C11). Grounded on the teacher's internal/app/scheduler/scheduler.go
// stopOnce/cancel/done lifecycle and internal/devops/service.go's
// Name/Start/Stop/State/Health service-interface shape.
package svcmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/triplesync/core/internal/model"
)

// ServiceState is a background service's lifecycle status (spec §4.6:
// stopped, running, error).
type ServiceState int

const (
	StateStopped ServiceState = iota
	StateRunning
	StateError
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Service is a background service hosted by the Manager (spec §4.6: "each
// service declares a service-kind enum value, an enabled flag, a status,
// and a process_operation dispatcher keyed by operation kind").
type Service interface {
	Kind() model.ServiceKind
	Enabled() bool
	State() ServiceState
	// ProcessOperation dispatches op by its OpKind. Implementations must
	// return a non-nil error for an operation kind they do not handle.
	ProcessOperation(ctx context.Context, op *model.ServiceOperation) error
	// Stop releases any resources the service holds; called during
	// Manager.Shutdown.
	Stop(ctx context.Context) error
}

// Metrics is the subset of ServiceMetrics a Service's host exposes back to
// callers (spec §4.6 "per-service counters").
type Metrics struct {
	Completed         int
	Failed            int
	Retried           int
	AverageLatency    time.Duration
	LastOperationTime time.Time
}
