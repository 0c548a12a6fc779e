// Package flight runs expensive, non-reentrant work one run at a time.
// Inputs scheduled while a run is executing overwrite each other; only the
// newest survives to start the next run.
package flight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// ErrWorkerStopped reports input rejected by a stopped worker
var ErrWorkerStopped = errors.New("worker stopped")

// RunFunc is the wrapped unit of work. It is never cancelled by the worker.
type RunFunc[I any] func(ctx context.Context, input I) error

// ErrorFunc receives failed runs; the worker keeps going either way
type ErrorFunc[I any] func(input I, err error)

// Worker is a single-flight ("latest overwrite") executor
// ⭐ SSOT: 동시 실행 금지 작업(주문 모니터, 계좌 갱신)은 이 워커로만
type Worker[I any] struct {
	name    string
	run     RunFunc[I]
	onError ErrorFunc[I]
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	ctx        context.Context
	accepting  bool
	inFlight   bool
	hasPending bool
	latest     I
	idle       chan struct{} // closed while no run is in flight

	runs     atomic.Int64
	failures atomic.Int64
}

// New creates a stopped worker; call Start before Schedule
func New[I any](name string, run RunFunc[I], onError ErrorFunc[I], log *logger.Logger, m *metrics.Metrics) *Worker[I] {
	if log == nil {
		log = logger.Nop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Worker[I]{
		name:    name,
		run:     run,
		onError: onError,
		logger:  log.WithComponent("flight").WithField("worker", name),
		metrics: m,
		ctx:     context.Background(),
		idle:    idle,
	}
}

// Name returns the worker name
func (w *Worker[I]) Name() string {
	return w.name
}

// Start makes the worker accept Schedule calls; runs receive ctx
func (w *Worker[I]) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctx = ctx
	w.accepting = true
}

// Stop rejects further input and discards the pending one.
// An in-flight run is left to finish on its own.
func (w *Worker[I]) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accepting = false
	w.clearLocked()
}

// Schedule records input as the latest and starts a run if none is executing.
// Returns false when the worker is stopped.
func (w *Worker[I]) Schedule(input I) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.accepting {
		return false
	}

	w.latest = input
	w.hasPending = true

	if !w.inFlight {
		w.inFlight = true
		w.idle = make(chan struct{})
		go w.drive(w.ctx, w.idle)
	}
	return true
}

// StopAndDrain stops the worker like Stop and waits until the in-flight run
// (if any) has completed, or ctx ends.
func (w *Worker[I]) StopAndDrain(ctx context.Context) error {
	w.mu.Lock()
	w.accepting = false
	w.clearLocked()
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain %s: %w", w.name, ctx.Err())
	}
}

// ClearLatestQueued discards the pending input without touching the in-flight run
func (w *Worker[I]) ClearLatestQueued() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearLocked()
}

func (w *Worker[I]) clearLocked() {
	var zero I
	w.latest = zero
	w.hasPending = false
}

// drive executes runs back to back while pending input exists.
// inFlight stays true across consecutive runs so no second driver can start.
func (w *Worker[I]) drive(ctx context.Context, idle chan struct{}) {
	for {
		w.mu.Lock()
		if !w.hasPending {
			w.inFlight = false
			close(idle)
			w.mu.Unlock()
			return
		}
		input := w.latest
		w.clearLocked()
		w.mu.Unlock()

		err := w.execute(ctx, input)
		w.runs.Add(1)
		w.metrics.ObserveFlightRun(w.name, err == nil)
		if err != nil {
			w.failures.Add(1)
			w.logger.WithError(err).Warn("Single-flight run failed")
			if w.onError != nil {
				w.onError(input, err)
			}
		}
	}
}

func (w *Worker[I]) execute(ctx context.Context, input I) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", w.name, r)
		}
	}()
	return w.run(ctx, input)
}

// Stats is a diagnostic snapshot
type Stats struct {
	Name      string `json:"name"`
	Accepting bool   `json:"accepting"`
	InFlight  bool   `json:"in_flight"`
	Pending   bool   `json:"pending"`
	Runs      int64  `json:"runs"`
	Failures  int64  `json:"failures"`
}

// Stats returns the worker state for the status API
func (w *Worker[I]) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Name:      w.name,
		Accepting: w.accepting,
		InFlight:  w.inFlight,
		Pending:   w.hasPending,
		Runs:      w.runs.Load(),
		Failures:  w.failures.Load(),
	}
}
