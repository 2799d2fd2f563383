package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	// ErrTransport covers network failures and unexpected HTTP statuses.
	ErrTransport ErrorType = iota
	// ErrDecode means the response did not have the expected shape.
	ErrDecode
	// ErrNotFound means the scheduler has no job with the requested id.
	ErrNotFound
	// ErrValidation means the scheduler rejected the job spec.
	ErrValidation
)

func (t ErrorType) String() string {
	switch t {
	case ErrTransport:
		return "Transport"
	case ErrDecode:
		return "Decode"
	case ErrNotFound:
		return "NotFound"
	case ErrValidation:
		return "Validation"
	default:
		return "Unknown"
	}
}

type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (e *Error) withStatus(code int) *Error {
	e.StatusCode = code
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Type == errorType
	}
	return false
}

// Retryable reports whether err is worth retrying without changing the request.
func Retryable(err error) bool {
	return IsErrorType(err, ErrTransport)
}
