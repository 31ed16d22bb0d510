// Package errkind codifies the run-level error taxonomy used across the
// runtime: provider/transport failures, model output errors, budget errors,
// step-limit termination, spawn-depth exhaustion, cancellation, and
// configuration errors. It mirrors the structured-error shape of
// runtime/agent/toolerrors.ToolError so callers can use errors.Is/As
// uniformly whether a failure originated from a tool or from the loop
// itself.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a run-terminating or run-reported error.
type Kind string

const (
	// KindProviderTransport covers transport/5xx failures from the model
	// provider after retries are exhausted.
	KindProviderTransport Kind = "provider_transport"

	// KindModelOutput covers malformed tool arguments or missing required
	// fields in a model turn; these are reported as tool results, not raised.
	KindModelOutput Kind = "model_output"

	// KindContextOverflow covers compaction failing even after bottom-up
	// re-summarization.
	KindContextOverflow Kind = "context_overflow"

	// KindMaxSteps marks terminal-but-not-error termination when the step
	// counter reaches max_steps before DONE_OK.
	KindMaxSteps Kind = "max_steps_reached"

	// KindSpawnDepthExceeded covers the spawn_agent tool's own depth check.
	KindSpawnDepthExceeded Kind = "spawn_depth_exceeded"

	// KindCancelled covers a run terminated by its cancellation flag.
	KindCancelled Kind = "cancelled"

	// KindConfiguration covers startup-time configuration errors (bad MCP
	// config, bad prompt config) that cause the process to refuse to serve
	// the affected agent.
	KindConfiguration Kind = "configuration"
)

// Error is a structured, kind-tagged error. Its Is method matches any *Error
// with the same Kind, so callers can test for a Kind with
// errors.Is(err, &errkind.Error{Kind: errkind.KindCancelled}), or inspect
// Kind directly after errors.As; Unwrap exposes Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats a message for the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error without discarding it.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, supporting
// errors.Is(err, &errkind.Error{Kind: errkind.KindCancelled}) style checks.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// Of returns the Kind of err when it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// CompactionError is returned by the Message Compactor when even the
// trimmed head exceeds the configured token limit.
type CompactionError struct {
	Limit   int
	Reached int
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("errkind: compaction could not fit transcript within limit %d (reached %d)", e.Limit, e.Reached)
}
