package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	tserrors "github.com/triplesync/core/internal/errors"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/resource"
)

// taskRow is the gorm row mapping for a Task. Metadata, Relations and Sync
// are stored as jsonb blobs rather than normalized columns — the relational
// schema itself is out of scope (spec §1) and this keeps the adapter honest
// to "schema out of scope" while still giving gorm a concrete model to
// migrate and query.
type taskRow struct {
	ID          string `gorm:"primaryKey"`
	Title       string
	Description string
	Status      string
	Priority    string
	Type        string
	ParentID    string
	ProjectID   string
	Feature     string
	Milestone   string
	Creator     string
	Assignee    string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	DueAt       *time.Time

	MetadataJSON  []byte `gorm:"type:jsonb"`
	RelationsJSON []byte `gorm:"type:jsonb"`
	SyncJSON      []byte `gorm:"type:jsonb"`
}

func (taskRow) TableName() string { return "tasks" }

func rowFromTask(t *model.Task) (*taskRow, error) {
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	relJSON, err := json.Marshal(t.Relations)
	if err != nil {
		return nil, fmt.Errorf("marshal relations: %w", err)
	}
	syncJSON, err := json.Marshal(t.Sync)
	if err != nil {
		return nil, fmt.Errorf("marshal sync record: %w", err)
	}
	return &taskRow{
		ID: t.ID, Title: t.Title, Description: t.Description,
		Status: string(t.Status), Priority: string(t.Priority), Type: t.Type,
		ParentID: t.ParentID, ProjectID: t.ProjectID, Feature: t.Feature, Milestone: t.Milestone,
		Creator: t.Creator, Assignee: t.Assignee,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
		StartedAt: t.StartedAt, CompletedAt: t.CompletedAt, DueAt: t.DueAt,
		MetadataJSON: metaJSON, RelationsJSON: relJSON, SyncJSON: syncJSON,
	}, nil
}

func (r *taskRow) toTask() (*model.Task, error) {
	t := &model.Task{
		ID: r.ID, Title: r.Title, Description: r.Description,
		Status: model.Status(r.Status), Priority: model.Priority(r.Priority), Type: r.Type,
		ParentID: r.ParentID, ProjectID: r.ProjectID, Feature: r.Feature, Milestone: r.Milestone,
		Creator: r.Creator, Assignee: r.Assignee,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, DueAt: r.DueAt,
	}
	if len(r.MetadataJSON) > 0 {
		if err := json.Unmarshal(r.MetadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(r.RelationsJSON) > 0 {
		if err := json.Unmarshal(r.RelationsJSON, &t.Relations); err != nil {
			return nil, fmt.Errorf("unmarshal relations: %w", err)
		}
	}
	if len(r.SyncJSON) > 0 {
		if err := json.Unmarshal(r.SyncJSON, &t.Sync); err != nil {
			return nil, fmt.Errorf("unmarshal sync record: %w", err)
		}
	}
	return t, nil
}

// PostgresStore is the gorm/postgres-backed relational adapter.
type PostgresStore struct {
	db        *gorm.DB
	resources *resource.Manager
	breaker   *tserrors.CircuitBreaker
	logger    logging.Logger
}

// Open connects to Postgres via dsn, runs AutoMigrate for taskRow, and
// returns a ready PostgresStore.
func Open(dsn string, resources *resource.Manager, breaker *tserrors.CircuitBreaker, logger logging.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, tserrors.NewConnectionFailed(tserrors.StoreRelational, "open", err)
	}
	if err := db.AutoMigrate(&taskRow{}); err != nil {
		return nil, tserrors.NewSchemaInvalid(tserrors.StoreRelational, "automigrate", err)
	}
	return &PostgresStore{
		db:        db,
		resources: resources,
		breaker:   breaker,
		logger:    logging.OrNop(logger).With("relational-store"),
	}, nil
}

func (s *PostgresStore) withConn(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	release, err := s.resources.Acquire(ctx, tserrors.StoreRelational)
	if err != nil {
		return err
	}
	defer release()
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return tserrors.NewConnectionFailed(tserrors.StoreRelational, op, err)
		}
		return nil
	})
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return tserrors.NewSchemaInvalid(tserrors.StoreRelational, "create_task", err)
	}
	row, err := rowFromTask(task)
	if err != nil {
		return tserrors.NewSchemaInvalid(tserrors.StoreRelational, "create_task", err)
	}
	return s.withConn(ctx, "create_task", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(row).Error
		})
	})
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	err := s.withConn(ctx, "get_task", func(ctx context.Context) error {
		err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return row.toTask()
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter ListFilter, limit int) ([]*model.Task, error) {
	var rows []taskRow
	err := s.withConn(ctx, "list_tasks", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&taskRow{})
		if filter.Status != "" {
			q = q.Where("status = ?", string(filter.Status))
		}
		if filter.ProjectID != "" {
			q = q.Where("project_id = ?", filter.ProjectID)
		}
		if filter.Assignee != "" {
			q = q.Where("assignee = ?", filter.Assignee)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toTask()
		if err != nil {
			return nil, tserrors.NewSchemaInvalid(tserrors.StoreRelational, "list_tasks", err)
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id string, patch Patch) error {
	updates := map[string]any{}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Assignee != nil {
		updates["assignee"] = *patch.Assignee
	}
	if patch.Sync != nil {
		syncJSON, err := json.Marshal(*patch.Sync)
		if err != nil {
			return tserrors.NewSchemaInvalid(tserrors.StoreRelational, "update_task", err)
		}
		updates["sync_json"] = syncJSON
	}
	updates["updated_at"] = time.Now()

	return s.withConn(ctx, "update_task", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Model(&taskRow{}).Where("id = ?", id).Updates(updates).Error
		})
	})
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	return s.withConn(ctx, "delete_task", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Where("id = ?", id).Delete(&taskRow{}).Error
		})
	})
}

// Optimize runs VACUUM and ANALYZE on the tasks table (spec §4.6
// index-optimization service).
func (s *PostgresStore) Optimize(ctx context.Context) error {
	return s.withConn(ctx, "optimize", func(ctx context.Context) error {
		if err := s.db.WithContext(ctx).Exec("VACUUM tasks").Error; err != nil {
			return err
		}
		return s.db.WithContext(ctx).Exec("ANALYZE tasks").Error
	})
}

func (s *PostgresStore) AllTaskIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withConn(ctx, "all_task_ids", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&taskRow{}).Pluck("id", &ids).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
