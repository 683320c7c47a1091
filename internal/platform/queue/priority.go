package queue

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
)

var ErrClosed = errors.New("task queue is closed")

// TaskQueue is a per-source priority queue of fetch tasks. A source only
// serves tasks whose NotBefore has passed, ordered by priority (desc),
// attempt count (asc) and enqueue time (asc). A (source, resource) pair is
// held at most once, either queued or in flight.
type TaskQueue struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      uint64
	closed   bool
	sources  map[string]*sourceQueue
	queued   map[string]*item
	inflight map[string]ingest.Task
}

type item struct {
	task    ingest.Task
	seq     uint64
	index   int
	delayed bool
}

type sourceQueue struct {
	ready   readyHeap
	delayed delayedHeap
	signal  chan struct{}
}

func New() *TaskQueue {
	return &TaskQueue{
		now:      time.Now,
		sources:  make(map[string]*sourceQueue),
		queued:   make(map[string]*item),
		inflight: make(map[string]ingest.Task),
	}
}

// Push adds a task. When the same resource is already queued the existing
// entry keeps its place and only adopts a higher priority; when it is in
// flight the push is dropped. added reports whether a new entry was made.
func (q *TaskQueue) Push(task ingest.Task) (added bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	return q.pushLocked(task), nil
}

// Requeue returns an in-flight task to the queue in one step.
func (q *TaskQueue) Requeue(task ingest.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, task.Key())
	if q.closed {
		return ErrClosed
	}
	q.pushLocked(task)
	return nil
}

// Done releases an in-flight task.
func (q *TaskQueue) Done(task ingest.Task) {
	q.mu.Lock()
	delete(q.inflight, task.Key())
	q.mu.Unlock()
}

func (q *TaskQueue) pushLocked(task ingest.Task) bool {
	key := task.Key()
	if _, busy := q.inflight[key]; busy {
		return false
	}

	sq := q.sourceLocked(task.SourceID)
	if existing, ok := q.queued[key]; ok {
		if task.Priority > existing.task.Priority {
			existing.task.Priority = task.Priority
			if existing.delayed {
				heap.Fix(&sq.delayed, existing.index)
			} else {
				heap.Fix(&sq.ready, existing.index)
			}
		}
		return false
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now()
	}
	q.seq++
	it := &item{task: task, seq: q.seq}
	q.queued[key] = it
	if task.Ready(q.now()) {
		heap.Push(&sq.ready, it)
	} else {
		it.delayed = true
		heap.Push(&sq.delayed, it)
	}
	notify(sq.signal)
	return true
}

// TryPop returns the best ready task of a source without blocking.
func (q *TaskQueue) TryPop(sourceID string) (ingest.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok, _ := q.popLocked(sourceID)
	return task, ok
}

// Pop blocks until a task of the source is ready, ctx is done, or the queue
// is closed.
func (q *TaskQueue) Pop(ctx context.Context, sourceID string) (ingest.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ingest.Task{}, ErrClosed
		}
		task, ok, wait := q.popLocked(sourceID)
		signal := q.sourceLocked(sourceID).signal
		q.mu.Unlock()
		if ok {
			return task, nil
		}

		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ingest.Task{}, ctx.Err()
		case <-signal:
		case <-due:
		}
		stopTimer(timer)
	}
}

// popLocked promotes due tasks and pops the best ready one. wait is the
// time until the next delayed task becomes due, zero if none.
func (q *TaskQueue) popLocked(sourceID string) (ingest.Task, bool, time.Duration) {
	sq := q.sourceLocked(sourceID)
	now := q.now()
	for sq.delayed.Len() > 0 && sq.delayed[0].task.Ready(now) {
		it := heap.Pop(&sq.delayed).(*item)
		it.delayed = false
		heap.Push(&sq.ready, it)
	}

	if sq.ready.Len() == 0 {
		if sq.delayed.Len() == 0 {
			return ingest.Task{}, false, 0
		}
		return ingest.Task{}, false, sq.delayed[0].task.NotBefore.Sub(now)
	}

	it := heap.Pop(&sq.ready).(*item)
	key := it.task.Key()
	delete(q.queued, key)
	q.inflight[key] = it.task
	return it.task, true, 0
}

func (q *TaskQueue) sourceLocked(sourceID string) *sourceQueue {
	sq, ok := q.sources[sourceID]
	if !ok {
		sq = &sourceQueue{signal: make(chan struct{}, 1)}
		q.sources[sourceID] = sq
	}
	return sq
}

// Depth is the number of queued (ready or delayed) tasks of a source.
func (q *TaskQueue) Depth(sourceID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sq, ok := q.sources[sourceID]
	if !ok {
		return 0
	}
	return sq.ready.Len() + sq.delayed.Len()
}

func (q *TaskQueue) InFlight(sourceID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, task := range q.inflight {
		if task.SourceID == sourceID {
			n++
		}
	}
	return n
}

// Contains reports whether the resource is queued or in flight.
func (q *TaskQueue) Contains(sourceID, resourceKey string) bool {
	key := ingest.TaskKey(sourceID, resourceKey)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[key]; ok {
		return true
	}
	_, ok := q.inflight[key]
	return ok
}

// Pending lists every queued task, in no particular source order.
func (q *TaskQueue) Pending() []ingest.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ingest.Task, 0, len(q.queued))
	for _, it := range q.queued {
		out = append(out, it.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, sq := range q.sources {
		notify(sq.signal)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i].task, h[j].task
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.AttemptCount != b.AttemptCount {
		return a.AttemptCount < b.AttemptCount
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

type delayedHeap []*item

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	if !h[i].task.NotBefore.Equal(h[j].task.NotBefore) {
		return h[i].task.NotBefore.Before(h[j].task.NotBefore)
	}
	return h[i].seq < h[j].seq
}

func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
