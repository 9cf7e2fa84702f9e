package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies a failed Ask.
type Kind int

const (
	KindEmptyQuestion Kind = iota + 1
	KindBusy
	KindSpawnFailed
	KindTimeout
	KindCanceled
	KindWorkerFailed
	KindMalformedOutput
	KindWorkerReportedError
)

// String returns a stable label used for logs, metrics and the client-facing
// details.kind field.
func (k Kind) String() string {
	switch k {
	case KindEmptyQuestion:
		return "empty_question"
	case KindBusy:
		return "busy"
	case KindSpawnFailed:
		return "spawn_failed"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindWorkerFailed:
		return "worker_failed"
	case KindMalformedOutput:
		return "malformed_output"
	case KindWorkerReportedError:
		return "worker_reported_error"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by Bridge.Ask.
//
// Message is safe to show to clients. Detail holds diagnostics that are
// logged but never returned: stderr for WorkerFailed, raw stdout for
// MalformedOutput.
type Error struct {
	Kind     Kind
	Message  string
	Detail   string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrEmptyQuestion       error = &Error{Kind: KindEmptyQuestion}
	ErrBusy                error = &Error{Kind: KindBusy}
	ErrSpawnFailed         error = &Error{Kind: KindSpawnFailed}
	ErrTimeout             error = &Error{Kind: KindTimeout}
	ErrCanceled            error = &Error{Kind: KindCanceled}
	ErrWorkerFailed        error = &Error{Kind: KindWorkerFailed}
	ErrMalformedOutput     error = &Error{Kind: KindMalformedOutput}
	ErrWorkerReportedError error = &Error{Kind: KindWorkerReportedError}
)

// ErrSpawn is wrapped by runners when the worker process could not be
// started at all.
var ErrSpawn = errors.New("spawn worker")

// KindOf returns the Kind of a bridge error, or 0.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
