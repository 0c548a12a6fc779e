package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// ErrProcessorRunning is returned when Start is called twice
var ErrProcessorRunning = errors.New("processor already running")

// ProcessFunc handles one popped task and reports success.
// Failures are returned as false, never as panics.
type ProcessFunc[T any] func(ctx context.Context, task Task[T]) bool

// Processor is the single consumer of a Queue: at most one task is processed at a time
type Processor[T any] struct {
	queue   *Queue[T]
	process ProcessFunc[T]
	logger  *logger.Logger
	metrics *metrics.Metrics

	wake        chan struct{}
	stopCh      chan struct{}
	done        chan struct{}
	unsubscribe func()

	mu      sync.Mutex
	running bool

	processed atomic.Int64
	failed    atomic.Int64
}

// NewProcessor binds fn to q
func NewProcessor[T any](q *Queue[T], fn ProcessFunc[T], log *logger.Logger, m *metrics.Metrics) *Processor[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor[T]{
		queue:   q,
		process: fn,
		logger:  log.WithComponent("processor").WithField("queue", q.Name()),
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the consumer goroutine
func (p *Processor[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrProcessorRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.unsubscribe = p.queue.OnTaskAdded(p.signal)

	go p.loop(ctx, p.stopCh, p.done)

	p.logger.Info("Task processor started")
	return nil
}

// Stop halts the consumer after the task in hand (if any) completes.
// Queued tasks stay in the queue.
func (p *Processor[T]) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.unsubscribe()
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Info("Task processor stopped")
}

// signal is non-blocking; one pending wake-up is enough since the loop drains fully
func (p *Processor[T]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Processor[T]) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		task, ok := p.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-p.wake:
			}
			continue
		}

		success := p.handle(ctx, task)
		if success {
			p.processed.Add(1)
		} else {
			p.failed.Add(1)
		}
		p.metrics.ObserveTask(p.queue.Name(), success)
	}
}

func (p *Processor[T]) handle(ctx context.Context, task Task[T]) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithError(fmt.Errorf("panic: %v", r)).WithFields(map[string]interface{}{
				"task_id":    task.ID,
				"dedupe_key": task.DedupeKey,
			}).Error("Task processing panicked")
			ok = false
		}
	}()

	ok = p.process(ctx, task)
	if !ok {
		p.logger.WithFields(map[string]interface{}{
			"task_id":    task.ID,
			"type":       task.Type,
			"dedupe_key": task.DedupeKey,
		}).Warn("Task processing failed")
	}
	return ok
}

// ProcessorStats is a diagnostic snapshot
type ProcessorStats struct {
	Queue     string `json:"queue"`
	Running   bool   `json:"running"`
	Pending   int    `json:"pending"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// Stats returns counters for the status API
func (p *Processor[T]) Stats() ProcessorStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return ProcessorStats{
		Queue:     p.queue.Name(),
		Running:   running,
		Pending:   p.queue.Size(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}
