package queue

import (
	"context"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Task is one bounded unit of pipeline work: advance the named call, which
// the publisher believed to be at ExpectedStage. Delivery is at-least-once;
// the orchestrator's idempotency absorbs duplicates.
type Task struct {
	CallID        string      `json:"call_id"`
	ExpectedStage types.Stage `json:"expected_stage"`
	DeliveryID    string      `json:"delivery_id"`

	// Ack confirms the delivery once the work unit has been processed. A
	// worker that crashes before calling it leaves the message unacked, so
	// the broker redelivers. Triggers without delivery tracking leave it nil.
	Ack func() `json:"-"`
}

// Trigger is the durable task delivery mechanism the workers pull from.
type Trigger interface {
	Publish(ctx context.Context, task Task) error
	// Tasks returns the consumption channel. The channel closes when the
	// trigger shuts down.
	Tasks() <-chan Task
	Close() error
}

// MemoryTrigger is a bounded in-process queue for local runs and tests.
type MemoryTrigger struct {
	ch chan Task
}

func NewMemoryTrigger(capacity int) *MemoryTrigger {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryTrigger{ch: make(chan Task, capacity)}
}

func (m *MemoryTrigger) Publish(ctx context.Context, task Task) error {
	select {
	case m.ch <- task:
		return nil
	case <-ctx.Done():
		return pipeline.Transient("trigger publish cancelled", ctx.Err())
	default:
		return pipeline.Transientf("trigger queue full")
	}
}

func (m *MemoryTrigger) Tasks() <-chan Task { return m.ch }

func (m *MemoryTrigger) Close() error {
	close(m.ch)
	return nil
}
