package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies task failures for metrics and client reporting.
type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "validation"
	ErrKindBinding        ErrorKind = "binding"
	ErrKindExecution      ErrorKind = "execution"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindTransport      ErrorKind = "transport"
	ErrKindClientReported ErrorKind = "client_reported"
)

// TaskError is a classified task failure.
type TaskError struct {
	Kind    ErrorKind
	Message string
}

func (e *TaskError) Error() string { return e.Message }

// NewTaskError builds a TaskError with a formatted message.
func NewTaskError(kind ErrorKind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error's kind, defaulting to execution for untyped
// errors.
func KindOf(err error) ErrorKind {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Kind
	}
	return ErrKindExecution
}
