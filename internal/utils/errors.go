package utils

import (
	"errors"
	"fmt"
)

// Kind classifies failures so entry points can map them onto response codes.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindDependency     Kind = "dependency"
	KindPolicy         Kind = "policy"
	KindPartialFailure Kind = "partial_failure"
	KindExhaustion     Kind = "exhaustion"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
)

var (
	// ErrNotFound signals a missing incident or approval.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed signals a second decision on an approval.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrAlreadyExists signals a duplicate create.
	ErrAlreadyExists = errors.New("already exists")
	// ErrVersionConflict signals a lost compare-and-set race.
	ErrVersionConflict = errors.New("version conflict")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError of the dependency kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Kind: KindDependency, Op: op, Msg: msg, Err: err}
}

// NewValidationError reports malformed input. It never wraps a cause.
func NewValidationError(op, msg string) error {
	return &AppError{Kind: KindValidation, Op: op, Msg: msg}
}

// NewKindError constructs an AppError of the given kind.
func NewKindError(kind Kind, op, msg string, err error) error {
	return &AppError{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf extracts the failure kind, falling back to sentinel inspection.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrVersionConflict):
		return KindConflict
	}
	return KindDependency
}
