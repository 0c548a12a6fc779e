package execution

import (
	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/taskqueue"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// PositionView reads cached holdings without waiting
type PositionView interface {
	Position(symbol string) (contracts.Position, bool)
}

// Dispatcher turns quotes into buy/sell tasks and monitor passes
// ⭐ SSOT: 시세 → 매매 태스크 변환은 여기서만
type Dispatcher struct {
	deps      Deps
	positions PositionView
	buyQ      *taskqueue.Queue[Signal]
	sellQ     *taskqueue.Queue[Signal]
	monitor   *OrderMonitor
	quotes    func() map[string]contracts.Quote
	logger    *logger.Logger
}

// NewDispatcher wires the queues; quotes returns the full latest-quote map for the monitor
func NewDispatcher(deps Deps, positions PositionView, buyQ, sellQ *taskqueue.Queue[Signal], monitor *OrderMonitor, quotes func() map[string]contracts.Quote) *Dispatcher {
	deps.defaults()
	return &Dispatcher{
		deps:      deps,
		positions: positions,
		buyQ:      buyQ,
		sellQ:     sellQ,
		monitor:   monitor,
		quotes:    quotes,
		logger:    deps.Logger.WithComponent("dispatcher"),
	}
}

// OnQuote evaluates one quote; register it as a quote cache listener
func (d *Dispatcher) OnQuote(q contracts.Quote) {
	if d.monitor != nil && d.quotes != nil {
		d.monitor.Schedule(d.quotes())
	}
	if !d.deps.Gate.IsTradingEnabled() {
		return
	}
	cfg := d.deps.Strategy()
	if cfg == nil {
		return
	}

	// exits first: a held position is sold even after its seat retired
	if pos, held := d.positions.Position(q.Symbol); held && pos.Qty > 0 {
		if ok, reason := EvaluateSell(cfg.Signals.Sell, q, pos); ok {
			d.schedule(d.sellQ, taskqueue.TaskSell, Signal{
				Symbol:     q.Symbol,
				Underlying: q.Underlying,
				Quote:      q,
				Reason:     reason,
			})
		}
		return
	}

	assignment, seated := d.deps.Seats.SeatOf(q.Symbol)
	if !seated {
		return
	}
	if ok, reason := EvaluateBuy(cfg.Signals.Buy, q.Indicators); ok {
		d.schedule(d.buyQ, taskqueue.TaskBuy, Signal{
			Symbol:     q.Symbol,
			Underlying: assignment.Underlying,
			Direction:  assignment.Direction,
			Quote:      q,
			Reason:     reason,
		})
	}
}

// Liquidate queues a sell of symbol regardless of signals
func (d *Dispatcher) Liquidate(q contracts.Quote, reason string) {
	d.schedule(d.sellQ, taskqueue.TaskLiquidate, Signal{
		Symbol:     q.Symbol,
		Underlying: q.Underlying,
		Quote:      q,
		Reason:     reason,
	})
}

func (d *Dispatcher) schedule(q *taskqueue.Queue[Signal], typ taskqueue.TaskType, sig Signal) {
	task := q.ScheduleLatest(taskqueue.Spec[Signal]{
		Type:      typ,
		DedupeKey: sig.Symbol,
		GroupKey:  sig.Underlying,
		Payload:   sig,
	})
	d.logger.WithFields(map[string]interface{}{
		"queue":   q.Name(),
		"task_id": task.ID,
		"symbol":  sig.Symbol,
		"reason":  sig.Reason,
	}).Debug("Task scheduled")
}

// DropSymbol removes queued tasks of a retired symbol. Buy tasks always go;
// sell tasks only at midnight, since a retired seat may still hold a position.
func (d *Dispatcher) DropSymbol(symbol, reason string) int {
	match := func(t taskqueue.Task[Signal]) bool { return t.DedupeKey == symbol }
	removed := d.buyQ.RemoveTasks(match, nil)
	if reason == "midnight" {
		removed += d.sellQ.RemoveTasks(match, nil)
	}
	if removed > 0 {
		d.logger.WithFields(map[string]interface{}{
			"symbol":  symbol,
			"reason":  reason,
			"removed": removed,
		}).Info("Dropped queued tasks")
	}
	return removed
}
