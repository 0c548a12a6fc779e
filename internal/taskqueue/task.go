package taskqueue

import "time"

// TaskType classifies what a processor should do with a task
type TaskType string

const (
	TaskBuy          TaskType = "BUY"
	TaskSell         TaskType = "SELL"
	TaskMonitor      TaskType = "MONITOR"
	TaskLiquidate    TaskType = "LIQUIDATE"
	TaskSeatRefresh  TaskType = "SEAT_REFRESH"
	TaskOrderRefresh TaskType = "ORDER_REFRESH"
)

// Task is immutable once created. The queue owns it until Pop hands it over.
type Task[T any] struct {
	ID        string    `json:"id"`
	Type      TaskType  `json:"type"`
	DedupeKey string    `json:"dedupe_key"`
	GroupKey  string    `json:"group_key"`
	Payload   T         `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Spec is what producers hand to ScheduleLatest; id and time are assigned by the queue
type Spec[T any] struct {
	Type      TaskType
	DedupeKey string
	GroupKey  string
	Payload   T
}
