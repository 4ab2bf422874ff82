package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can decide how to react
// without inspecting error strings.
type Kind string

const (
	// KindFatal marks failures that will not succeed on retry: malformed
	// input bytes, a missing OCR backend. The task ends in an error status.
	KindFatal Kind = "fatal"

	// KindRetryable marks transient failures: object store I/O, OCR engine
	// hiccups. The queue may redeliver the task.
	KindRetryable Kind = "retryable"
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal wraps err as an unretryable failure.
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// Retryable wraps err as a transient failure.
func Retryable(op string, err error) *Error {
	return &Error{Kind: KindRetryable, Op: op, Err: err}
}

// IsRetryable reports whether err is classified as transient. Unclassified
// errors are treated as fatal so that unknown failures are not retried
// forever.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindRetryable
	}
	return false
}
