// Package runlog provides a durable, append-only event log for agent runs:
// the AgentLogger sink described for the runtime's Run Logger. Runtimes
// append events as runs execute and callers list them using opaque cursors.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// Event is a single immutable run event appended to the run log. Store
	// implementations assign ID when persisting; IDs are opaque,
	// monotonically ordered within a run, and suitable for cursor pagination.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// RunID is the identifier of the run this event belongs to.
		RunID string
		// SessionID groups related runs into a conversation thread.
		SessionID string
		// Type classifies the record: step, request, response,
		// tool_execution, or completion.
		Type string
		// Payload is the canonical JSON-encoded payload for the event.
		// request payloads omit provider secrets; tool_execution payloads
		// include duration_ms.
		Payload json.RawMessage
		// Timestamp is the event time.
		Timestamp time.Time
	}

	// Page is a forward page of run events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor is the cursor to use to fetch the next page. Empty
		// when there are no further events.
		NextCursor string
	}

	// Store is an append-only event store for run introspection.
	// Implementations must provide stable ordering within a run; cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append stores the event in the run log, assigning its ID.
		// Append must be durable: failures are surfaced to callers so
		// workflows can fail fast when canonical logging is unavailable.
		Append(ctx context.Context, e *Event) error

		// List returns the next forward page of events for the given run
		// ID. Cursor is an opaque value returned by a previous List call,
		// or empty to start from the beginning. Limit must be > 0.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}

	// Exporter forwards run log events to an external observability
	// backend (e.g. Langfuse) in place of durable local storage.
	Exporter interface {
		Export(ctx context.Context, e *Event) error
	}

	exporterSink struct {
		exporter Exporter
	}
)

// Record type constants for Event.Type, matching the AgentLogger contract.
const (
	TypeStep          = "step"
	TypeRequest       = "request"
	TypeResponse      = "response"
	TypeToolExecution = "tool_execution"
	TypeCompletion    = "completion"
)

// NewExporterSink wraps exporter as a Store. When a run is configured with
// an exporter sink instead of a durable Store, the per-run JSONL file (or
// database row) is suppressed and every event is forwarded to exporter's
// callback instead — the Langfuse suppression rule.
func NewExporterSink(exporter Exporter) Store {
	return &exporterSink{exporter: exporter}
}

func (s *exporterSink) Append(ctx context.Context, e *Event) error {
	return s.exporter.Export(ctx, e)
}

func (s *exporterSink) List(ctx context.Context, runID string, cursor string, limit int) (Page, error) {
	return Page{}, errors.New("runlog: list is not supported by an exporter sink")
}
