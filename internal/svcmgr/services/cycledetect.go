package services

import (
	"context"
	"fmt"
	"sync"

	graphanalysis "github.com/triplesync/core/internal/graph"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/store/relational"
	"github.com/triplesync/core/internal/svcmgr"
)

// OpCheckCycles and OpFullCycleCheck are the cycle-detection service's
// operation kinds.
const (
	OpCheckCycles    = "check_cycles"
	OpFullCycleCheck = "full_cycle_check"
)

// maxRecordedCycles bounds the in-memory diagnostic log of discovered
// cycles (spec §7/§9.5: "all diagnostic snapshots in-memory/bounded").
const maxRecordedCycles = 500

// CycleDetectionService traverses the graph store for depends-on cycles
// rooted at the affected task(s), delegating the actual path query to the
// graph analyzer (C6) rather than touching the graph store directly (spec
// §4.6/§4.7).
type CycleDetectionService struct {
	analyzer *graphanalysis.Analyzer
	tasks    relational.Store
	logger   logging.Logger
	enabled  bool
	state    svcmgr.ServiceState

	mu     sync.Mutex
	cycles []graphanalysis.Cycle
}

// NewCycleDetectionService builds a CycleDetectionService.
func NewCycleDetectionService(analyzer *graphanalysis.Analyzer, tasks relational.Store, logger logging.Logger) *CycleDetectionService {
	return &CycleDetectionService{
		analyzer: analyzer,
		tasks:    tasks,
		logger:   logging.OrNop(logger).With("cycle-detection"),
		enabled:  true,
		state:    svcmgr.StateRunning,
	}
}

func (s *CycleDetectionService) Kind() model.ServiceKind    { return model.ServiceCycleDetect }
func (s *CycleDetectionService) Enabled() bool              { return s.enabled }
func (s *CycleDetectionService) State() svcmgr.ServiceState { return s.state }

func (s *CycleDetectionService) ProcessOperation(ctx context.Context, op *model.ServiceOperation) error {
	switch op.OpKind {
	case OpCheckCycles:
		return s.checkOne(ctx, op.TargetID)
	case OpFullCycleCheck:
		return s.fullCheck(ctx)
	default:
		return fmt.Errorf("cycle detection service: unknown operation kind %q", op.OpKind)
	}
}

func (s *CycleDetectionService) checkOne(ctx context.Context, taskID string) error {
	cycles, err := s.analyzer.Cycles(ctx, taskID)
	if err != nil {
		return err
	}
	s.record(cycles)
	return nil
}

// fullCheck iterates over every task that has at least one outgoing
// depends-on edge, checking ctx for cancellation between tasks with a
// non-blocking channel select; it does not otherwise yield.
func (s *CycleDetectionService) fullCheck(ctx context.Context) error {
	ids, err := s.tasks.AllTaskIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deps, err := s.analyzer.Dependencies(ctx, id)
		if err != nil {
			return err
		}
		if len(deps) == 0 {
			continue
		}
		cycles, err := s.analyzer.Cycles(ctx, id)
		if err != nil {
			return err
		}
		s.record(cycles)
	}
	return nil
}

func (s *CycleDetectionService) record(found []graphanalysis.Cycle) {
	if len(found) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range found {
		s.logger.Warn("dependency cycle discovered: %v", c.NodeIDs)
		s.cycles = append(s.cycles, c)
		if len(s.cycles) > maxRecordedCycles {
			s.cycles = s.cycles[len(s.cycles)-maxRecordedCycles:]
		}
	}
}

// RecordedCycles returns the bounded in-memory log of discovered cycles,
// for diagnostics.
func (s *CycleDetectionService) RecordedCycles() []graphanalysis.Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]graphanalysis.Cycle, len(s.cycles))
	copy(out, s.cycles)
	return out
}

func (s *CycleDetectionService) Stop(ctx context.Context) error {
	s.state = svcmgr.StateStopped
	return nil
}
