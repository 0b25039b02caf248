// Package model defines the task orchestration core's shared data model:
// tasks, their triple-sync records, lifecycle events, auto-append rules and
// background service operations.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Priority is an ordered task priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Complexity classifies estimated task difficulty.
type Complexity string

const (
	ComplexityTrivial    Complexity = "trivial"
	ComplexitySimple     Complexity = "simple"
	ComplexityModerate   Complexity = "moderate"
	ComplexityComplex    Complexity = "complex"
	ComplexityVeryComple Complexity = "very_complex"
)

// RelationKind names a typed relation between two tasks.
type RelationKind string

const (
	RelationParentChild RelationKind = "parent_child"
	RelationDependsOn   RelationKind = "depends_on"
	RelationBlocks      RelationKind = "blocks"
	RelationRelatesTo   RelationKind = "relates_to"
	RelationDuplicateOf RelationKind = "duplicate_of"
)

// Metadata is the free-form attribute bag attached to a task.
type Metadata struct {
	Complexity       Complexity `json:"complexity,omitempty"`
	EstimatedEffort  float64    `json:"estimated_effort,omitempty"`
	ActualEffort     float64    `json:"actual_effort,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	SourceReferences []string   `json:"source_references,omitempty"`
}

// Task is the central entity coordinated across the three stores.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	Type        string   `json:"type,omitempty"`

	ParentID  string `json:"parent_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Feature   string `json:"feature,omitempty"`
	Milestone string `json:"milestone,omitempty"`

	Creator  string `json:"creator,omitempty"`
	Assignee string `json:"assignee,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`

	Metadata  Metadata                        `json:"metadata"`
	Relations map[RelationKind]map[string]bool `json:"relations,omitempty"`

	Sync SyncRecord `json:"sync"`
}

// Validate checks structural invariants a Task must hold before it is
// accepted by any store adapter. It does not check cross-task invariants
// (those belong to the graph analyzer).
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("model: task id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("model: task %s: title is required", t.ID)
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("model: task %s: invalid status %q", t.ID, t.Status)
	}
	switch t.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("model: task %s: invalid priority %q", t.ID, t.Priority)
	}
	return nil
}

// AddRelation records a typed relation from this task to another task id.
func (t *Task) AddRelation(kind RelationKind, otherID string) {
	if t.Relations == nil {
		t.Relations = make(map[RelationKind]map[string]bool)
	}
	if t.Relations[kind] == nil {
		t.Relations[kind] = make(map[string]bool)
	}
	t.Relations[kind][otherID] = true
}

// ReferenceStrings flattens Metadata.SourceReferences for embedding content.
func (t *Task) ReferenceStrings() []string {
	return t.Metadata.SourceReferences
}

// ContentHash computes the stable digest over title+description+references
// used to detect whether a task is eligible for re-embedding.
func (t *Task) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(t.Title))
	h.Write([]byte{0})
	h.Write([]byte(t.Description))
	for _, ref := range t.ReferenceStrings() {
		h.Write([]byte{0})
		h.Write([]byte(ref))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Touch refreshes UpdatedAt and, if the content hash changed, resets the
// vector-sync flag so the task becomes eligible for re-embedding (spec
// invariant: "content-hash changes ⇒ vector-synced is reset to false").
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
	hash := t.ContentHash()
	if hash != t.Sync.ContentHash {
		t.Sync.ContentHash = hash
		t.Sync.VectorSynced = false
	}
}
