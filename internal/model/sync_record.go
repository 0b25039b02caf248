package model

import "time"

// SyncOverallStatus is the aggregate sync state of a task's triple-sync record.
type SyncOverallStatus string

const (
	SyncPending SyncOverallStatus = "pending"
	SyncSyncing SyncOverallStatus = "syncing"
	SyncSynced  SyncOverallStatus = "synced"
	SyncPartial SyncOverallStatus = "partial"
	SyncError   SyncOverallStatus = "error"
)

// SyncRecord is the per-task triple-sync record described in spec §3.
type SyncRecord struct {
	Overall SyncOverallStatus `json:"overall"`

	VectorSynced bool `json:"vector_synced"`
	GraphSynced  bool `json:"graph_synced"`

	LastIndexed *time.Time `json:"last_indexed,omitempty"`
	SyncError   string     `json:"sync_error,omitempty"`

	ContentHash      string `json:"content_hash,omitempty"`
	EmbeddingVersion int    `json:"embedding_version"`

	VectorDocID string `json:"vector_doc_id,omitempty"`
	GraphNodeID string `json:"graph_node_id,omitempty"`

	VectorSyncedAt *time.Time `json:"vector_synced_at,omitempty"`
	GraphSyncedAt  *time.Time `json:"graph_synced_at,omitempty"`
}

// Reconcile recomputes Overall from the per-store booleans and error state,
// implementing the invariants from spec §3 and the transition table of
// spec §4.9. It is the single place that may assign Overall outside of an
// explicit "syncing"/"pending" transition.
func (r *SyncRecord) Reconcile(now time.Time) {
	switch {
	case r.VectorSynced && r.GraphSynced && r.SyncError == "":
		r.Overall = SyncSynced
		r.LastIndexed = &now
	case r.VectorSynced != r.GraphSynced:
		r.Overall = SyncPartial
	case r.SyncError != "":
		r.Overall = SyncError
	default:
		r.Overall = SyncPending
	}
}

// MarkSyncing transitions the record into the "syncing" state ahead of a
// coordinator attempt. It does not touch the per-store booleans.
func (r *SyncRecord) MarkSyncing() {
	r.Overall = SyncSyncing
	r.SyncError = ""
}

// ResetForFullResync implements force_full_resync: clears both per-store
// flags and the sync error and returns the record to "pending".
func (r *SyncRecord) ResetForFullResync() {
	r.VectorSynced = false
	r.GraphSynced = false
	r.SyncError = ""
	r.Overall = SyncPending
}

// NeedsReembedding reports whether the content hash changed since the
// vector store was last successfully synced.
func (r *SyncRecord) NeedsReembedding(currentHash string) bool {
	return !r.VectorSynced || r.ContentHash != currentHash
}

// MarkVectorSynced records a successful vector-store sync. embeddingVersion
// is bumped only when re-embedding actually occurred (the spec resolves the
// "should a no-op resync bump embedding_version" open question as "no").
func (r *SyncRecord) MarkVectorSynced(docID string, reembedded bool, now time.Time) {
	r.VectorSynced = true
	r.VectorDocID = docID
	r.VectorSyncedAt = &now
	if reembedded {
		r.EmbeddingVersion++
	}
}

// MarkGraphSynced records a successful graph-store sync.
func (r *SyncRecord) MarkGraphSynced(nodeID string, now time.Time) {
	r.GraphSynced = true
	r.GraphNodeID = nodeID
	r.GraphSyncedAt = &now
}
