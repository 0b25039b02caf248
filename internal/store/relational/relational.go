// Package relational defines the narrow adapter interface to the system of
// record for tasks (spec §9.1) plus a Postgres/gorm implementation and an
// in-memory fake for tests.
package relational

import (
	"context"

	"github.com/triplesync/core/internal/model"
)

// ListFilter narrows ListTasks. Zero-value selects no filter on that field.
type ListFilter struct {
	Status    model.Status
	ProjectID string
	Assignee  string
}

// Patch is a partial update applied to a task row. Nil fields are left
// untouched; Sync, when non-nil, replaces the triple-sync sub-object in
// full (matching spec §9.1's "patch may include the full triple-sync
// sub-object").
type Patch struct {
	Status      *model.Status
	Assignee    *string
	CompletedAt *bool // true => stamp now, handled by caller before calling UpdateTask
	Sync        *model.SyncRecord
}

// Store is the relational adapter contract (spec §9.1).
type Store interface {
	// CreateTask inserts a new task row. Returns an error if id already exists.
	CreateTask(ctx context.Context, task *model.Task) error
	// GetTask returns the task row for id, or (nil, nil) if absent.
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// ListTasks returns up to limit tasks matching filter.
	ListTasks(ctx context.Context, filter ListFilter, limit int) ([]*model.Task, error)
	// UpdateTask applies patch to the task row for id within a single
	// transactional boundary.
	UpdateTask(ctx context.Context, id string, patch Patch) error
	// DeleteTask removes the task row for id. Must succeed if id is absent.
	DeleteTask(ctx context.Context, id string) error
	// AllTaskIDs returns every known task id, used by force_full_resync.
	AllTaskIDs(ctx context.Context) ([]string, error)
	// Optimize runs store-defined maintenance (VACUUM+ANALYZE for Postgres),
	// used by the index-optimization background service (spec §4.6).
	Optimize(ctx context.Context) error
}
