// Package errors provides structured error types for the booking store.
// All errors include a category, code, message, and retryable flag so the
// engine, the HTTP and gRPC surfaces, and the event consumer classify
// failures the same way.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryIngest    ErrorCategory = "INGEST"
	ErrCategoryPartition ErrorCategory = "PARTITION"
	ErrCategoryIndex     ErrorCategory = "INDEX"
	ErrCategoryQuery     ErrorCategory = "QUERY"
	ErrCategoryAggregate ErrorCategory = "AGGREGATE"
	ErrCategoryCatalog   ErrorCategory = "CATALOG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes shared across categories.
const (
	// A write would break a data invariant (range order, amount sign,
	// status machine). Never retryable.
	CodeInvariantViolation = "INVARIANT_VIOLATION"

	// Duplicate record id or duplicate partition boundary.
	CodeConflict = "CONFLICT"

	// The requested composite index is not defined.
	CodeNoSuchIndex = "NO_SUCH_INDEX"

	// A partition lock could not be acquired within the configured wait.
	CodeBusy = "BUSY"

	// A summary diverged from its recomputation.
	CodeDriftDetected = "DRIFT_DETECTED"

	CodeNotFound = "NOT_FOUND"

	// Query codes
	CodeInvalidQuery = "INVALID_QUERY"

	// Catalog codes
	CodePersistFailed = "PERSIST_FAILED"
	CodeLoadFailed    = "LOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Detail keys attached by the constructors below.
const (
	DetailRecordID  = "record_id"
	DetailField     = "field"
	DetailPartition = "partition"
	DetailWaited    = "waited"
	DetailKey       = "key"
)

// StoreError is the structured error type used throughout the system.
type StoreError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's code, and its category
// when the target names one.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if errors.As(target, &t) {
		if t.Category != "" && t.Category != e.Category {
			return false
		}
		return e.Code == t.Code
	}
	return false
}

// New creates a new StoreError.
func New(category ErrorCategory, code, message string) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Wrap creates a new StoreError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(code),
	}
}

// WithDetails returns a copy of the error with additional details merged in.
func (e *StoreError) WithDetails(details map[string]interface{}) *StoreError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// Sentinels usable with errors.Is regardless of category.
var (
	ErrInvariantViolation = &StoreError{Code: CodeInvariantViolation}
	ErrConflict           = &StoreError{Code: CodeConflict}
	ErrNoSuchIndex        = &StoreError{Code: CodeNoSuchIndex}
	ErrBusy               = &StoreError{Code: CodeBusy}
	ErrDriftDetected      = &StoreError{Code: CodeDriftDetected}
	ErrNotFound           = &StoreError{Code: CodeNotFound}
)

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StoreError.
func GetCategory(err error) ErrorCategory {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StoreError.
func GetCode(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Details
	}
	return nil
}

// Only lock timeouts are transient; everything else fails the same way on retry.
func isRetryable(code string) bool {
	return code == CodeBusy
}

// Convenience constructors for common errors.

func NewInvariantViolation(message, recordID, field string) *StoreError {
	return New(ErrCategoryIngest, CodeInvariantViolation, message).WithDetails(map[string]interface{}{
		DetailRecordID: recordID,
		DetailField:    field,
	})
}

func NewConflict(category ErrorCategory, message string, details map[string]interface{}) *StoreError {
	return New(category, CodeConflict, message).WithDetails(details)
}

func NewNoSuchIndex(fields string) *StoreError {
	return New(ErrCategoryIndex, CodeNoSuchIndex, "no index on ("+fields+")").WithDetails(map[string]interface{}{
		DetailField: fields,
	})
}

func NewBusy(partition string, waited time.Duration) *StoreError {
	return New(ErrCategoryPartition, CodeBusy, "partition "+partition+" is busy").WithDetails(map[string]interface{}{
		DetailPartition: partition,
		DetailWaited:    waited.String(),
	})
}

func NewDriftDetected(key, message string) *StoreError {
	return New(ErrCategoryAggregate, CodeDriftDetected, message).WithDetails(map[string]interface{}{
		DetailKey: key,
	})
}

func NewNotFound(category ErrorCategory, message string) *StoreError {
	return New(category, CodeNotFound, message)
}

func NewQueryError(code, message string) *StoreError {
	return New(ErrCategoryQuery, code, message)
}

func NewCatalogError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewInternalError(message string, cause error) *StoreError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
