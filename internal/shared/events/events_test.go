package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventPopulatesEnvelope(t *testing.T) {
	data := TaskCompletedData{TaskID: 5, Rank: 2, ThisTime: 1.5, TimeOverEst: 1.5}

	ev, err := NewEvent(TaskCompleted, "5", "task", data)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TaskCompleted, ev.Type)
	assert.Equal(t, "5", ev.AggregateID)
	assert.Equal(t, "task", ev.AggregateType)
	assert.Equal(t, 1, ev.Version)
	assert.False(t, ev.Timestamp.IsZero())

	var got TaskCompletedData
	require.NoError(t, ev.GetData(&got))
	assert.Equal(t, data, got)
}

func TestEventTopicIsSingleStream(t *testing.T) {
	ev, err := NewEvent(WorkerReady, "3", "worker", WorkerReadyData{Rank: 3})
	require.NoError(t, err)
	assert.Equal(t, "distwq.task.events", ev.Topic())
}

func TestEventChainableSetters(t *testing.T) {
	ev, err := NewEvent(RunStarted, "run-1", "run", nil)
	require.NoError(t, err)

	ev.WithCorrelation("corr-1").WithCausation("cause-1").WithSource("controller").WithTrace("trace-1", "span-1")

	assert.Equal(t, "corr-1", ev.Metadata.CorrelationID)
	assert.Equal(t, "cause-1", ev.Metadata.CausationID)
	assert.Equal(t, "controller", ev.Metadata.Source)
	assert.Equal(t, "trace-1", ev.Metadata.TraceID)
	assert.Equal(t, "span-1", ev.Metadata.SpanID)
}
