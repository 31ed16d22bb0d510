// Package trace records the higher-level multi-agent event stream: the
// TraceLogger. Where runlog captures one run's own step/request/response
// detail, trace captures fork/join topology across a whole workflow —
// workflow/agent/task boundaries and the delegations between them.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

type (
	// Event is a single TraceLogger record.
	Event struct {
		// TraceID identifies the top-level workflow this event belongs to;
		// every event produced while servicing one top-level run shares it.
		TraceID string
		// RunID is the run (agent or team invocation) that produced this
		// event.
		RunID string
		// ParentRunID is the run that delegated to RunID, empty for the
		// top-level run.
		ParentRunID string
		// EventType is one of the Event* constants below.
		EventType string
		// Timestamp is the event time.
		Timestamp time.Time
		// Payload is the event-type-specific JSON payload.
		Payload json.RawMessage
	}

	// Sink receives TraceLogger events. Unlike runlog.Store, a Sink is
	// write-only: trace reconstruction (fork/join topology) is done by
	// downstream tooling reading the sink's durable output, not by the
	// runtime.
	Sink interface {
		Record(ctx context.Context, e *Event) error
	}

	// Tracer is the handle runtime components use to emit trace events for
	// one workflow. It stamps TraceID onto every event it records.
	Tracer struct {
		sink    Sink
		traceID string
	}

	// memorySink is an in-memory Sink for tests and single-process
	// development, mirroring runlog/inmem's shape for symmetry.
	memorySink struct {
		mu     sync.Mutex
		events []*Event
	}
)

// Event type constants, matching the TraceLogger contract.
const (
	EventWorkflowStart = "workflow_start"
	EventAgentStart    = "agent_start"
	EventDelegation    = "delegation"
	EventTaskStart     = "task_start"
	EventMessagePass   = "message_pass"
	EventTaskEnd       = "task_end"
	EventAgentEnd      = "agent_end"
	EventWorkflowEnd   = "workflow_end"
)

// NewTracer returns a Tracer that stamps traceID onto every event it
// records to sink. A nil sink makes every method a no-op, so callers that
// don't configure tracing don't need to guard every call site.
func NewTracer(sink Sink, traceID string) *Tracer {
	return &Tracer{sink: sink, traceID: traceID}
}

// Record emits one trace event of the given type for runID (with an
// optional parentRunID), attaching payload as its JSON body.
func (t *Tracer) Record(ctx context.Context, eventType, runID, parentRunID string, payload any) error {
	if t == nil || t.sink == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.sink.Record(ctx, &Event{
		TraceID:     t.traceID,
		RunID:       runID,
		ParentRunID: parentRunID,
		EventType:   eventType,
		Timestamp:   time.Now(),
		Payload:     b,
	})
}

// WorkflowStart records the entry point of a top-level run.
func (t *Tracer) WorkflowStart(ctx context.Context, runID string, payload any) error {
	return t.Record(ctx, EventWorkflowStart, runID, "", payload)
}

// WorkflowEnd records completion of a top-level run.
func (t *Tracer) WorkflowEnd(ctx context.Context, runID string, payload any) error {
	return t.Record(ctx, EventWorkflowEnd, runID, "", payload)
}

// AgentStart records an agent beginning execution within runID.
func (t *Tracer) AgentStart(ctx context.Context, runID, parentRunID string, payload any) error {
	return t.Record(ctx, EventAgentStart, runID, parentRunID, payload)
}

// AgentEnd records an agent finishing execution within runID.
func (t *Tracer) AgentEnd(ctx context.Context, runID, parentRunID string, payload any) error {
	return t.Record(ctx, EventAgentEnd, runID, parentRunID, payload)
}

// Delegation records a parent run handing a task to a child run (team
// member delegation, spawn_agent, or graph node fan-out).
func (t *Tracer) Delegation(ctx context.Context, parentRunID, childRunID string, payload any) error {
	return t.Record(ctx, EventDelegation, childRunID, parentRunID, payload)
}

// TaskStart/TaskEnd bracket one discrete unit of delegated work (a team
// member's task, a graph node's execution).
func (t *Tracer) TaskStart(ctx context.Context, runID, parentRunID string, payload any) error {
	return t.Record(ctx, EventTaskStart, runID, parentRunID, payload)
}

func (t *Tracer) TaskEnd(ctx context.Context, runID, parentRunID string, payload any) error {
	return t.Record(ctx, EventTaskEnd, runID, parentRunID, payload)
}

// MessagePass records a message handed from one run to another (e.g. a
// graph edge carrying a reducer's output to the next layer).
func (t *Tracer) MessagePass(ctx context.Context, fromRunID, toRunID string, payload any) error {
	return t.Record(ctx, EventMessagePass, toRunID, fromRunID, payload)
}

// NewMemorySink returns an in-memory Sink suitable for tests.
func NewMemorySink() Sink {
	return &memorySink{}
}

func (s *memorySink) Record(_ context.Context, e *Event) error {
	if e == nil {
		return errors.New("trace: event is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := *e
	s.events = append(s.events, &ev)
	return nil
}

// Events returns a snapshot of every event recorded so far, in order.
func (s *memorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}
