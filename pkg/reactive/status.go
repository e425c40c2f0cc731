package reactive

import (
	"fmt"
	"runtime/debug"
)

// StatusKind enumerates the four states of an asynchronous reactive
// value.
type StatusKind uint8

const (
	// StatusIdle: no result yet and nothing running.
	StatusIdle StatusKind = iota

	// StatusWaiting: an evaluation is in flight, no result yet.
	StatusWaiting

	// StatusSuccess: the latest evaluation produced a value.
	StatusSuccess

	// StatusError: the latest evaluation failed.
	StatusError
)

// String returns a human-readable name for the status kind.
func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "Idle"
	case StatusWaiting:
		return "Waiting"
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Status is the tagged result of an asynchronous reactive value: exactly
// one of Idle, Waiting, Success(value), or Error(err). Errors are
// carried in the status, never thrown to a reader.
type Status[T any] struct {
	kind  StatusKind
	value T
	err   error
	stack []byte
}

// Idle returns the Idle status.
func Idle[T any]() Status[T] {
	return Status[T]{kind: StatusIdle}
}

// Waiting returns the Waiting status.
func Waiting[T any]() Status[T] {
	return Status[T]{kind: StatusWaiting}
}

// Success returns a Success status carrying v.
func Success[T any](v T) Status[T] {
	return Status[T]{kind: StatusSuccess, value: v}
}

// Failure returns an Error status carrying err. The failure-site stack
// is captured when DebugMode is enabled.
func Failure[T any](err error) Status[T] {
	s := Status[T]{kind: StatusError, err: err}
	if DebugMode {
		s.stack = debug.Stack()
	}
	return s
}

// Kind returns the status variant.
func (s Status[T]) Kind() StatusKind { return s.kind }

// IsIdle reports whether the status is Idle.
func (s Status[T]) IsIdle() bool { return s.kind == StatusIdle }

// IsWaiting reports whether the status is Waiting.
func (s Status[T]) IsWaiting() bool { return s.kind == StatusWaiting }

// IsSuccess reports whether the status is Success.
func (s Status[T]) IsSuccess() bool { return s.kind == StatusSuccess }

// IsError reports whether the status is Error.
func (s Status[T]) IsError() bool { return s.kind == StatusError }

// Value returns the success value and whether one is present.
func (s Status[T]) Value() (T, bool) {
	return s.value, s.kind == StatusSuccess
}

// Or returns the success value, or fallback for any other variant.
func (s Status[T]) Or(fallback T) T {
	if s.kind == StatusSuccess {
		return s.value
	}
	return fallback
}

// Err returns the carried error, or nil outside the Error variant.
func (s Status[T]) Err() error {
	if s.kind == StatusError {
		return s.err
	}
	return nil
}

// Stack returns the failure-site stack trace captured under DebugMode,
// or nil.
func (s Status[T]) Stack() []byte { return s.stack }

// String renders the status for logs.
func (s Status[T]) String() string {
	switch s.kind {
	case StatusSuccess:
		return fmt.Sprintf("Success(%v)", s.value)
	case StatusError:
		return fmt.Sprintf("Error(%v)", s.err)
	default:
		return s.kind.String()
	}
}

// statusEquals compares two statuses for notification suppression:
// same variant, equal success values, identical errors.
func statusEquals[T any](a, b Status[T]) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case StatusSuccess:
		return defaultEquals(a.value, b.value)
	case StatusError:
		return a.err == b.err
	default:
		return true
	}
}
