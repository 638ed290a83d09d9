package fundflow

import (
	"context"
	"errors"
	"fmt"
)

// Class is the failure classification an activity reports to the engine.
// Activities never surface bare errors across the workflow boundary; the
// executor wraps every error into a Failure and the coordinator maps the
// class to a state transition.
type Class string

const (
	// ClassTimeout indicates the attempt timed out and the true outcome is unknown
	ClassTimeout Class = "TIMEOUT"
	// ClassRejected indicates an explicit business rejection (insufficient funds,
	// invalid authorization, transfer rejected)
	ClassRejected Class = "REJECTED"
	// ClassInfra indicates a transient infrastructure failure
	ClassInfra Class = "INFRA"
	// ClassFatal indicates a non-retryable failure (validation, restriction)
	ClassFatal Class = "FATAL"
)

// Retryable returns true if failures of this class may be retried by policy.
func (c Class) Retryable() bool {
	switch c {
	case ClassTimeout, ClassInfra:
		return true
	default:
		return false
	}
}

// Failure is a classified activity failure.
type Failure struct {
	Class Class
	Err   error
}

// NewFailure creates a Failure with the given class wrapping err.
func NewFailure(class Class, err error) *Failure {
	return &Failure{Class: class, Err: err}
}

// Fatal creates a ClassFatal failure.
func Fatal(err error) *Failure {
	return NewFailure(ClassFatal, err)
}

// Rejected creates a ClassRejected failure.
func Rejected(err error) *Failure {
	return NewFailure(ClassRejected, err)
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Class, f.Err)
}

// Unwrap returns the wrapped error for errors.Is / errors.As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps an error to a Failure. Errors already carrying a Failure keep
// their class; context deadlines and activity timeouts become ClassTimeout;
// known business rejections become ClassRejected; everything else is ClassInfra.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrActivityTimeout):
		return NewFailure(ClassTimeout, err)
	case errors.Is(err, ErrTransferRejected),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidAuthorization),
		errors.Is(err, ErrBrokerRejected):
		return NewFailure(ClassRejected, err)
	case errors.Is(err, ErrUserInvalid),
		errors.Is(err, ErrRestricted),
		errors.Is(err, ErrAccountSuspended),
		errors.Is(err, ErrOperationInProgress):
		return NewFailure(ClassFatal, err)
	default:
		return NewFailure(ClassInfra, err)
	}
}

// ClassOf returns the classification of err, or the empty class for nil.
func ClassOf(err error) Class {
	f := Classify(err)
	if f == nil {
		return ""
	}
	return f.Class
}
