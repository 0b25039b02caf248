package svcmgr

import (
	"container/heap"
	"sync"

	"github.com/triplesync/core/internal/model"
)

// opHeap orders operations by (priority asc, created_at asc), grounded on
// the container/heap min-heap traversal idiom already used in the pack for
// priority-ordered graph walks.
type opHeap []*model.ServiceOperation

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x any) {
	*h = append(*h, x.(*model.ServiceOperation))
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is a mutex-guarded min-heap of pending operations.
type priorityQueue struct {
	mu sync.Mutex
	h  opHeap
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	heap.Init(&q.h)
	return q
}

func (q *priorityQueue) push(op *model.ServiceOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, op)
}

// pop returns the highest-priority, oldest-enqueued operation, or nil if
// the queue is empty.
func (q *priorityQueue) pop() *model.ServiceOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*model.ServiceOperation)
}

func (q *priorityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
