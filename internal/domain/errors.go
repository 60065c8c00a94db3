package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrValidation         = errors.New("validation failed")
	ErrGone               = errors.New("no longer available")
	ErrTooLarge           = errors.New("payload too large")
	ErrJobTimeout         = errors.New("job exceeded its running time budget")
	ErrJobCancelled       = errors.New("job cancelled")
)

// QuotaReason explains why admission was denied.
type QuotaReason string

const (
	ReasonDailyQuota  QuotaReason = "DAILY_QUOTA_EXCEEDED"
	ReasonConcurrency QuotaReason = "CONCURRENCY_LIMIT"
)

// QuotaExceededError is returned when the ledger denies admission.
type QuotaExceededError struct {
	AccountID string
	Reason    QuotaReason
	Limit     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s (limit %d)", e.Reason, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// ValidationError reports bad input shape or size; the job is never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SizeLimitError reports an upload over its kind's byte limit.
type SizeLimitError struct {
	Kind  AssetKind
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s exceeds %d bytes", e.Kind, e.Limit)
}

func (e *SizeLimitError) Is(target error) bool { return target == ErrTooLarge }

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IllegalTransitionError signals an attempt to leave the state machine.
type IllegalTransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindTransient          ErrorKind = "transient"
	ErrorKindPermanent          ErrorKind = "permanent"
	ErrorKindStorageUnavailable ErrorKind = "storage_unavailable"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindCancelled          ErrorKind = "cancelled"
)

// ProcessingError wraps a processing function failure with its retry class.
type ProcessingError struct {
	Transient bool
	Err       error
}

func (e *ProcessingError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	if e.Err == nil {
		return class + " processing error"
	}
	return class + " processing error: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	return &ProcessingError{Transient: true, Err: err}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return &ProcessingError{Transient: false, Err: err}
}

// Permanentf formats a non-retryable error.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsTransient reports whether err should be retried. Storage outages count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return true
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// ClassifyError maps a terminal processing error to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrJobTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrJobCancelled):
		return ErrorKindCancelled
	case errors.Is(err, ErrStorageUnavailable):
		return ErrorKindStorageUnavailable
	case IsTransient(err):
		return ErrorKindTransient
	default:
		return ErrorKindPermanent
	}
}
