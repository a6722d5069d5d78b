// Package events defines the lifecycle events a controller publishes as
// tasks move through the queue, for external dashboards and audit trails.
// This is observability history, not the queue itself.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a distwq lifecycle event.
type EventType string

const (
	TaskSubmitted EventType = "task.submitted"
	TaskAssigned  EventType = "task.assigned"
	TaskCompleted EventType = "task.completed"
	TaskFailed    EventType = "task.failed"

	WorkerReady  EventType = "worker.ready"
	WorkerExited EventType = "worker.exited"

	RunStarted EventType = "run.started"
	RunExited  EventType = "run.exited"
)

// Event represents a domain event emitted by a controller or broker.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Metadata carries cross-cutting context alongside an event.
type Metadata struct {
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	Source        string            `json:"source,omitempty"`
	TraceID       string            `json:"traceId,omitempty"`
	SpanID        string            `json:"spanId,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// NewEvent creates a new event with a fresh ID and current timestamp.
func NewEvent(eventType EventType, aggregateID, aggregateType string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Timestamp:     time.Now().UTC(),
		Version:       1,
		Data:          dataBytes,
		Metadata:      Metadata{},
	}, nil
}

// WithCorrelation sets the correlation ID.
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.Metadata.CorrelationID = correlationID
	return e
}

// WithCausation sets the causation ID.
func (e *Event) WithCausation(causationID string) *Event {
	e.Metadata.CausationID = causationID
	return e
}

// WithSource sets the source process (e.g. "controller", "broker").
func (e *Event) WithSource(source string) *Event {
	e.Metadata.Source = source
	return e
}

// WithTrace sets the trace/span IDs, letting a task's TraceState propagate
// into the events a controller publishes about it.
func (e *Event) WithTrace(traceID, spanID string) *Event {
	e.Metadata.TraceID = traceID
	e.Metadata.SpanID = spanID
	return e
}

// GetData unmarshals the event data into the provided type.
func (e *Event) GetData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Topic returns the Kafka topic this event should be published to. Unlike
// the SaaS vocabulary's per-aggregate topic split, distwq's event set is
// small enough to live on one topic, partitioned downstream by AggregateID.
func (e *Event) Topic() string {
	return "distwq.task.events"
}

// TaskAssignedData contains data for a task.assigned event.
type TaskAssignedData struct {
	TaskID  uint64  `json:"taskId"`
	Rank    int     `json:"rank"`
	Symbol  string  `json:"symbol"`
	Module  string  `json:"module"`
	TimeEst float64 `json:"timeEst"`
}

// TaskCompletedData contains data for a task.completed event.
type TaskCompletedData struct {
	TaskID      uint64  `json:"taskId"`
	Rank        int     `json:"rank"`
	ThisTime    float64 `json:"thisTime"`
	TimeOverEst float64 `json:"timeOverEst"`
}

// TaskFailedData contains data for a task.failed event.
type TaskFailedData struct {
	TaskID uint64 `json:"taskId"`
	Rank   int    `json:"rank"`
	Error  string `json:"error"`
}

// WorkerReadyData contains data for a worker.ready event.
type WorkerReadyData struct {
	Rank int `json:"rank"`
}

// WorkerExitedData contains data for a worker.exited event.
type WorkerExitedData struct {
	Rank       int   `json:"rank"`
	NProcessed int64 `json:"nProcessed"`
}

// RunExitedData contains data for a run.exited event.
type RunExitedData struct {
	NProcessed int64   `json:"nProcessed"`
	Elapsed    float64 `json:"elapsed"`
}
