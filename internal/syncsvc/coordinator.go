// Package syncsvc implements the sync coordinator (C5): the batched,
// retrying, idempotent propagation of a task's relational row into the
// vector and graph stores, grounded on spec §4.5 and the teacher's
// scheduler lifecycle idiom (internal/app/scheduler/scheduler.go).
package syncsvc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/triplesync/core/internal/embed"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/store/graph"
	"github.com/triplesync/core/internal/store/relational"
	"github.com/triplesync/core/internal/store/vector"
)

// OpKind is the sync operation kind (spec §4.5).
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Target is a propagation target store.
type Target string

const (
	TargetVector Target = "vector"
	TargetGraph  Target = "graph"
)

// Priority orders batch processing; lower values are processed first
// (spec §4.5: high=1, normal=2, low=3).
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// DefaultBatchSize is the coordinator's dequeue batch size.
const DefaultBatchSize = 10

// DefaultBatchWindow is the batch-collection window.
const DefaultBatchWindow = 30 * time.Second

// DefaultMaxRetries is the per-operation retry budget.
const DefaultMaxRetries = 3

// DefaultMaxContentLength bounds the embedding content truncation.
const DefaultMaxContentLength = 2000

// Operation is a single queued sync request.
type Operation struct {
	TaskID     string
	Kind       OpKind
	Targets    []Target
	Priority   Priority
	CreatedAt  time.Time
	RetryCount int
}

// Result is the outcome of a single sync attempt (spec §4.5 sync_immediate).
type Result struct {
	TaskID       string
	Overall      model.SyncOverallStatus
	VectorSynced bool
	GraphSynced  bool
	Err          error
}

// Statistics is the coordinator's introspection snapshot (spec §4.5
// statistics()).
type Statistics struct {
	ByOverallStatus map[model.SyncOverallStatus]int
	VectorSynced    int
	GraphSynced     int
	QueueDepth      int
	InFlightCount   int
}

// Config tunes the coordinator's batching, retry and content policies.
type Config struct {
	BatchSize        int
	BatchWindow      time.Duration
	MaxRetries       int
	MaxContentLength int
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        DefaultBatchSize,
		BatchWindow:      DefaultBatchWindow,
		MaxRetries:       DefaultMaxRetries,
		MaxContentLength: DefaultMaxContentLength,
	}
}

// Coordinator is the sync coordinator (C5).
type Coordinator struct {
	cfg Config

	tasks  relational.Store
	vec    vector.Store
	graphS graph.Store
	logger logging.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	pending  chan *Operation

	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once
}

// New builds a Coordinator. cfg's zero fields are replaced with defaults.
func New(cfg Config, tasks relational.Store, vec vector.Store, graphS graph.Store, logger logging.Logger) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	return &Coordinator{
		cfg:      cfg,
		tasks:    tasks,
		vec:      vec,
		graphS:   graphS,
		logger:   logging.OrNop(logger).With("sync-coordinator"),
		inFlight: make(map[string]bool),
		pending:  make(chan *Operation, 1024),
		done:     make(chan struct{}),
	}
}

// Start launches the batch-collection loop.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
}

// Stop cancels the batch loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.stop.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		<-c.done
	})
}

// ScheduleSync enqueues a non-blocking sync request. It is a no-op if
// taskID is already in flight (spec §4.5 schedule_sync).
func (c *Coordinator) ScheduleSync(taskID string, kind OpKind, targets []Target, priority Priority) {
	c.mu.Lock()
	inFlight := c.inFlight[taskID]
	c.mu.Unlock()
	if inFlight {
		return
	}

	op := &Operation{TaskID: taskID, Kind: kind, Targets: targets, Priority: priority, CreatedAt: time.Now()}
	select {
	case c.pending <- op:
	default:
		c.logger.Warn("sync queue full, dropping schedule_sync for task_id=%s", taskID)
	}
}

// SyncImmediate bypasses the queue entirely and runs the operation inline,
// returning its outcome (spec §4.5 sync_immediate).
func (c *Coordinator) SyncImmediate(ctx context.Context, taskID string, kind OpKind, targets []Target) Result {
	op := &Operation{TaskID: taskID, Kind: kind, Targets: targets, Priority: PriorityHigh, CreatedAt: time.Now()}
	return c.execute(ctx, op)
}

// ForceFullResync resets every known task's sync state to pending and
// enqueues a normal-priority update sync for each (spec §4.5).
func (c *Coordinator) ForceFullResync(ctx context.Context) error {
	ids, err := c.tasks.AllTaskIDs(ctx)
	if err != nil {
		return fmt.Errorf("syncsvc: force_full_resync: list tasks: %w", err)
	}
	for _, id := range ids {
		task, err := c.tasks.GetTask(ctx, id)
		if err != nil || task == nil {
			continue
		}
		task.Sync.ResetForFullResync()
		syncRecord := task.Sync
		if err := c.tasks.UpdateTask(ctx, id, relational.Patch{Sync: &syncRecord}); err != nil {
			c.logger.Warn("force_full_resync: failed to reset sync record for task_id=%s: %v", id, err)
			continue
		}
		c.ScheduleSync(id, OpUpdate, []Target{TargetVector, TargetGraph}, PriorityNormal)
	}
	return nil
}

// Statistics returns a point-in-time snapshot (spec §4.5 statistics()).
func (c *Coordinator) Statistics(ctx context.Context) (Statistics, error) {
	out := Statistics{ByOverallStatus: make(map[model.SyncOverallStatus]int)}

	ids, err := c.tasks.AllTaskIDs(ctx)
	if err != nil {
		return out, fmt.Errorf("syncsvc: statistics: list tasks: %w", err)
	}
	for _, id := range ids {
		task, err := c.tasks.GetTask(ctx, id)
		if err != nil || task == nil {
			continue
		}
		out.ByOverallStatus[task.Sync.Overall]++
		if task.Sync.VectorSynced {
			out.VectorSynced++
		}
		if task.Sync.GraphSynced {
			out.GraphSynced++
		}
	}

	c.mu.Lock()
	out.QueueDepth = len(c.pending)
	out.InFlightCount = len(c.inFlight)
	c.mu.Unlock()
	return out, nil
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	timer := time.NewTimer(c.cfg.BatchWindow)
	defer timer.Stop()

	var batch []*Operation
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.pending:
			batch = append(batch, op)
			if len(batch) >= c.cfg.BatchSize {
				c.processBatch(ctx, batch)
				batch = nil
				resetTimer(timer, c.cfg.BatchWindow)
			}
		case <-timer.C:
			if len(batch) > 0 {
				c.processBatch(ctx, batch)
				batch = nil
			}
			timer.Reset(c.cfg.BatchWindow)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// processBatch orders the batch by (priority, creation_time) ascending and
// processes each operation concurrently, skipping any task id already in
// flight (spec §4.5 "internal queue").
func (c *Coordinator) processBatch(ctx context.Context, batch []*Operation) {
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority < batch[j].Priority
		}
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	var wg sync.WaitGroup
	for _, op := range batch {
		c.mu.Lock()
		skip := c.inFlight[op.TaskID]
		c.mu.Unlock()
		if skip {
			continue
		}
		wg.Add(1)
		go func(op *Operation) {
			defer wg.Done()
			c.execute(ctx, op)
		}(op)
	}
	wg.Wait()
}

// execute runs the full per-operation pipeline (spec §4.5 "per-operation
// execution") and, on any failure while retries remain, schedules a
// re-enqueue after the backoff delay.
func (c *Coordinator) execute(ctx context.Context, op *Operation) Result {
	c.mu.Lock()
	c.inFlight[op.TaskID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, op.TaskID)
		c.mu.Unlock()
	}()

	result := c.runOperation(ctx, op)

	if result.Err != nil && op.RetryCount < c.cfg.MaxRetries {
		retried := *op
		retried.RetryCount++
		delay := backoffDelay(retried.RetryCount)
		c.logger.Warn("sync for task_id=%s failed, retry %d/%d in %v: %v",
			op.TaskID, retried.RetryCount, c.cfg.MaxRetries, delay, result.Err)
		time.AfterFunc(delay, func() {
			select {
			case c.pending <- &retried:
			default:
				c.logger.Warn("sync queue full, dropping retry for task_id=%s", op.TaskID)
			}
		})
	}
	return result
}

// backoffDelay implements spec §4.5's retry policy: min(2^retry_count, 60)s,
// where retry_count is the post-increment attempt number.
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	seconds := 1 << uint(retryCount)
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func (c *Coordinator) runOperation(ctx context.Context, op *Operation) Result {
	now := time.Now()
	task, err := c.tasks.GetTask(ctx, op.TaskID)
	if err != nil {
		return Result{TaskID: op.TaskID, Overall: model.SyncError, Err: err}
	}

	var syncRecord model.SyncRecord
	if task != nil {
		syncRecord = task.Sync
	}
	syncRecord.MarkSyncing()
	if task != nil {
		c.persist(ctx, op.TaskID, syncRecord)
	}

	var errMsgs []string
	for _, target := range op.Targets {
		var terr error
		switch target {
		case TargetVector:
			terr = c.syncVector(ctx, op, task, &syncRecord, now)
		case TargetGraph:
			terr = c.syncGraph(ctx, op, task, &syncRecord, now)
		default:
			terr = fmt.Errorf("syncsvc: unknown target %q", target)
		}
		if terr != nil {
			errMsgs = append(errMsgs, fmt.Sprintf("%s: %v", target, terr))
		}
	}

	if len(errMsgs) > 0 {
		syncRecord.SyncError = joinErrors(errMsgs)
	} else {
		syncRecord.SyncError = ""
	}
	syncRecord.Reconcile(now)

	if task != nil {
		c.persist(ctx, op.TaskID, syncRecord)
	}

	var resultErr error
	if len(errMsgs) > 0 {
		resultErr = fmt.Errorf("syncsvc: task %s: %s", op.TaskID, syncRecord.SyncError)
	}
	return Result{
		TaskID:       op.TaskID,
		Overall:      syncRecord.Overall,
		VectorSynced: syncRecord.VectorSynced,
		GraphSynced:  syncRecord.GraphSynced,
		Err:          resultErr,
	}
}

func (c *Coordinator) persist(ctx context.Context, taskID string, syncRecord model.SyncRecord) {
	if err := c.tasks.UpdateTask(ctx, taskID, relational.Patch{Sync: &syncRecord}); err != nil {
		c.logger.Warn("failed to persist sync record for task_id=%s: %v", taskID, err)
	}
}

func (c *Coordinator) syncVector(ctx context.Context, op *Operation, task *model.Task, syncRecord *model.SyncRecord, now time.Time) error {
	docID := vector.DocID(op.TaskID)
	if op.Kind == OpDelete || task == nil {
		if err := c.vec.Delete(ctx, docID); err != nil {
			return err
		}
		syncRecord.VectorSynced = false
		return nil
	}

	contentHash := task.ContentHash()
	reembedded := syncRecord.NeedsReembedding(contentHash)
	content := embed.BuildAndTruncate(task.Title, task.Description, task.ReferenceStrings(), c.cfg.MaxContentLength)
	metadata := vector.Metadata{
		TaskID:           task.ID,
		Title:            task.Title,
		ContentHash:      contentHash,
		ProjectID:        task.ProjectID,
		ParentTaskID:     task.ParentID,
		Feature:          task.Feature,
		Status:           string(task.Status),
		Priority:         string(task.Priority),
		CreatedAt:        task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        task.UpdatedAt.UTC().Format(time.RFC3339),
		Complexity:       string(task.Metadata.Complexity),
		EstimatedEffort:  strconv.FormatFloat(task.Metadata.EstimatedEffort, 'f', -1, 64),
		Tags:             task.Metadata.Tags,
		Assignee:         task.Assignee,
		EmbeddingVersion: syncRecord.EmbeddingVersion,
		EmbeddedAt:       now.UTC().Format(time.RFC3339),
	}
	if err := c.vec.Upsert(ctx, docID, content, metadata); err != nil {
		return err
	}
	syncRecord.ContentHash = contentHash
	syncRecord.MarkVectorSynced(docID, reembedded, now)
	return nil
}

func (c *Coordinator) syncGraph(ctx context.Context, op *Operation, task *model.Task, syncRecord *model.SyncRecord, now time.Time) error {
	if op.Kind == OpDelete || task == nil {
		if err := c.graphS.DeleteNodeAndEdges(ctx, graph.LabelTask, op.TaskID); err != nil {
			return err
		}
		syncRecord.GraphSynced = false
		return nil
	}

	props := map[string]any{
		"title":      task.Title,
		"status":     string(task.Status),
		"priority":   string(task.Priority),
		"created_at": task.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := c.graphS.UpsertNode(ctx, graph.LabelTask, task.ID, props); err != nil {
		return err
	}
	if err := c.syncRelationEdges(ctx, task); err != nil {
		return err
	}
	syncRecord.MarkGraphSynced(task.ID, now)
	return nil
}

var relationToLabel = map[model.RelationKind]string{
	model.RelationParentChild: graph.RelParentChild,
	model.RelationDependsOn:   graph.RelDependsOn,
	model.RelationBlocks:      graph.RelBlocks,
	model.RelationRelatesTo:   graph.RelRelatesTo,
	model.RelationDuplicateOf: graph.RelDuplicateOf,
}

func (c *Coordinator) syncRelationEdges(ctx context.Context, task *model.Task) error {
	for kind, targets := range task.Relations {
		label, ok := relationToLabel[kind]
		if !ok {
			continue
		}
		for otherID := range targets {
			if err := c.graphS.UpsertEdge(ctx, label, graph.LabelTask, task.ID, graph.LabelTask, otherID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinErrors(msgs []string) string {
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}
