// Package vector defines the narrow adapter interface to the semantic
// embedding store (spec §9.2) plus a chromem-go implementation and an
// in-memory fake for tests.
package vector

import (
	"context"
	"fmt"
)

// DocID builds the document id convention from spec §9.2: "task_<id>_content".
func DocID(taskID string) string {
	return fmt.Sprintf("task_%s_content", taskID)
}

// Metadata is the required per-document metadata projection (spec §9.2).
// All fields are optional strings unless noted.
type Metadata struct {
	TaskID           string // required
	Title            string
	ContentHash      string
	ProjectID        string
	ParentTaskID     string
	Feature          string
	Status           string
	Priority         string
	CreatedAt        string // ISO-8601
	UpdatedAt        string // ISO-8601
	Complexity       string
	EstimatedEffort  string
	Tags             []string
	Assignee         string
	AssignedRole     string
	EmbeddingVersion int
	EmbeddedAt       string // ISO-8601
}

// Store is the vector adapter contract (spec §9.2).
type Store interface {
	// Upsert updates doc if present, or adds it if not.
	Upsert(ctx context.Context, docID string, text string, metadata Metadata) error
	// Delete must succeed even if docID is absent.
	Delete(ctx context.Context, docID string) error
	// Optimize runs adapter-defined statistics/compaction maintenance, used
	// by the index-optimization background service (spec §4.6).
	Optimize(ctx context.Context) error
}
