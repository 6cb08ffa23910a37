package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

func TestMemoryTriggerDeliversTasks(t *testing.T) {
	trig := NewMemoryTrigger(4)
	defer trig.Close()

	task := Task{CallID: "call-1", ExpectedStage: types.StagePending}
	require.NoError(t, trig.Publish(context.Background(), task))

	got := <-trig.Tasks()
	assert.Equal(t, "call-1", got.CallID)
	assert.Equal(t, types.StagePending, got.ExpectedStage)
}

func TestTaskWireFormatExcludesAck(t *testing.T) {
	task := Task{CallID: "call-1", ExpectedStage: types.StagePending, DeliveryID: "d1", Ack: func() {}}

	body, err := json.Marshal(task)
	require.NoError(t, err, "the ack callback must never reach the wire")

	var decoded Task
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "call-1", decoded.CallID)
	assert.Nil(t, decoded.Ack)
}

func TestMemoryTriggerFullQueueIsTransient(t *testing.T) {
	trig := NewMemoryTrigger(1)
	defer trig.Close()

	ctx := context.Background()
	require.NoError(t, trig.Publish(ctx, Task{CallID: "call-1"}))

	err := trig.Publish(ctx, Task{CallID: "call-2"})
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err), "a full queue is retryable backpressure")
}
