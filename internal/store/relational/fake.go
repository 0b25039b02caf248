package relational

import (
	"context"
	"sync"
	"time"

	tserrors "github.com/triplesync/core/internal/errors"
	"github.com/triplesync/core/internal/model"
)

// Fake is an in-memory Store used by tests for the coordinator, graph
// analyzer and rule engine, grounded on the teacher's preference for fakes
// over mocks in its own test doubles.
type Fake struct {
	mu            sync.Mutex
	tasks         map[string]*model.Task
	optimizeCalls int
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{tasks: make(map[string]*model.Task)}
}

func cloneTask(t *model.Task) *model.Task {
	cp := *t
	if t.Relations != nil {
		cp.Relations = make(map[model.RelationKind]map[string]bool, len(t.Relations))
		for k, v := range t.Relations {
			inner := make(map[string]bool, len(v))
			for id := range v {
				inner[id] = true
			}
			cp.Relations[k] = inner
		}
	}
	return &cp
}

func (f *Fake) CreateTask(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return tserrors.NewSchemaInvalid(tserrors.StoreRelational, "create_task", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.tasks[task.ID]; exists {
		return tserrors.NewSchemaInvalid(tserrors.StoreRelational, "create_task", errAlreadyExists(task.ID))
	}
	f.tasks[task.ID] = cloneTask(task)
	return nil
}

func (f *Fake) GetTask(ctx context.Context, id string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (f *Fake) ListTasks(ctx context.Context, filter ListFilter, limit int) ([]*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Assignee != "" && t.Assignee != filter.Assignee {
			continue
		}
		out = append(out, cloneTask(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) UpdateTask(ctx context.Context, id string, patch Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return tserrors.NewSchemaInvalid(tserrors.StoreRelational, "update_task", errNotFound(id))
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Assignee != nil {
		t.Assignee = *patch.Assignee
	}
	if patch.Sync != nil {
		t.Sync = *patch.Sync
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (f *Fake) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *Fake) AllTaskIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.tasks))
	for id := range f.tasks {
		ids = append(ids, id)
	}
	return ids, nil
}

// Optimize records an optimize call; the in-memory fake has nothing to
// vacuum or analyze.
func (f *Fake) Optimize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optimizeCalls++
	return nil
}

// OptimizeCalls reports how many times Optimize has been invoked, for test
// assertions.
func (f *Fake) OptimizeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.optimizeCalls
}

type errAlreadyExists string

func (e errAlreadyExists) Error() string { return "relational: task already exists: " + string(e) }

type errNotFound string

func (e errNotFound) Error() string { return "relational: task not found: " + string(e) }
