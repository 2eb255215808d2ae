// Package toolerrors defines the structured error type shared by every
// component that can fail in a way the router or stage engine must classify
// and, in some cases, retry.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry, fall
// back, or surface a failure banner to a downstream prompt.
type Kind string

const (
	// KindTimeout covers connect/read/chunk timeouts at the model client or
	// MCP transport boundary. Retriable with backoff.
	KindTimeout Kind = "timeout"
	// KindTransport covers connection resets, non-timeout I/O failures, and
	// non-2xx HTTP statuses that are not timeouts. Retriable with backoff.
	KindTransport Kind = "transport"
	// KindParse covers JSON decode failures on a classification/tool-decision
	// payload. Never retried; callers fall back to the safe branch.
	KindParse Kind = "parse"
	// KindEmpty covers an LLM call that returned no usable content on either
	// the content or reasoning channel. Retriable up to a small cap.
	KindEmpty Kind = "empty"
	// KindRefusal covers a direct-path response that ignored supplied tool
	// data. Retriable up to a small cap with an escalated system prompt.
	KindRefusal Kind = "refusal"
	// KindToolFailed covers a tool call whose outer or inner envelope
	// reported failure. Never retried automatically; surfaced as a banner.
	KindToolFailed Kind = "tool_failed"
)

// Retriable reports whether errors of this kind should be retried by
// internal/retry's helper.
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindTransport, KindEmpty, KindRefusal:
		return true
	default:
		return false
	}
}

// Error is a structured failure carrying a Kind, a message, and an optional
// wrapped cause, preserving errors.Is/errors.As chains through layers of
// orchestration (model client -> tool orchestrator -> council -> router).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// As extracts the Kind of err if it is, or wraps, a *Error. The ok result is
// false when no Kind could be determined.
func As(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := As(err)
	return ok && k == kind
}
