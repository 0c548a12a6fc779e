package taskqueue

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// Queue is a FIFO where scheduling a task whose dedupe key is already queued
// removes the old one first and appends the new one at the tail.
// At most one queued task per dedupe key.
// ⭐ SSOT: 종목별 최신 작업 큐는 여기서만
type Queue[T any] struct {
	name    string
	clock   clock.Clock
	metrics *metrics.Metrics

	mu        sync.Mutex
	tasks     []Task[T]
	listeners map[int]func()
	nextID    int
}

// New creates an empty queue
func New[T any](name string, clk clock.Clock, m *metrics.Metrics) *Queue[T] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue[T]{
		name:      name,
		clock:     clk,
		metrics:   m,
		listeners: make(map[int]func()),
	}
}

// Name returns the queue name
func (q *Queue[T]) Name() string {
	return q.name
}

// OnTaskAdded registers fn to run after every successful insertion.
// The returned func unregisters it.
func (q *Queue[T]) OnTaskAdded(fn func()) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// ScheduleLatest replaces any queued task with the same dedupe key and
// appends the new one with a fresh id and creation time.
func (q *Queue[T]) ScheduleLatest(spec Spec[T]) Task[T] {
	task := Task[T]{
		ID:        uuid.NewString(),
		Type:      spec.Type,
		DedupeKey: spec.DedupeKey,
		GroupKey:  spec.GroupKey,
		Payload:   spec.Payload,
		CreatedAt: q.clock.Now(),
	}

	q.mu.Lock()
	for i := range q.tasks {
		if q.tasks[i].DedupeKey == spec.DedupeKey {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	listeners := make([]func(), 0, len(q.listeners))
	for _, fn := range q.listeners {
		listeners = append(listeners, fn)
	}
	q.mu.Unlock()

	q.metrics.SetQueueDepth(q.name, depth)
	for _, fn := range listeners {
		fn()
	}
	return task
}

// Pop removes and returns the head task
func (q *Queue[T]) Pop() (Task[T], bool) {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		var zero Task[T]
		return zero, false
	}
	task := q.tasks[0]
	var zero Task[T]
	q.tasks[0] = zero
	q.tasks = q.tasks[1:]
	depth := len(q.tasks)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(q.name, depth)
	return task, true
}

// RemoveTasks removes every task matching pred and returns the count.
// onRemove (optional) runs for each removed task after the lock is released.
func (q *Queue[T]) RemoveTasks(pred func(Task[T]) bool, onRemove func(Task[T])) int {
	q.mu.Lock()
	kept := q.tasks[:0]
	var removed []Task[T]
	for _, task := range q.tasks {
		if pred(task) {
			removed = append(removed, task)
			continue
		}
		kept = append(kept, task)
	}
	// clear the tail so removed payloads can be collected
	for i := len(kept); i < len(q.tasks); i++ {
		var zero Task[T]
		q.tasks[i] = zero
	}
	q.tasks = kept
	depth := len(q.tasks)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(q.name, depth)
	if onRemove != nil {
		for _, task := range removed {
			onRemove(task)
		}
	}
	return len(removed)
}

// Clear removes every queued task
func (q *Queue[T]) Clear() int {
	return q.RemoveTasks(func(Task[T]) bool { return true }, nil)
}

// IsEmpty reports whether nothing is queued
func (q *Queue[T]) IsEmpty() bool {
	return q.Size() == 0
}

// Size returns the number of queued tasks
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns a copy of the queued tasks in order (diagnostics)
func (q *Queue[T]) Snapshot() []Task[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task[T], len(q.tasks))
	copy(out, q.tasks)
	return out
}
