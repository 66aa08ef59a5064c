// Package errors provides structured error types for the Tephra storage
// engine. All errors carry a category, code, message, and retryable flag so
// the compaction runner and query handlers can make consistent retry
// decisions.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by subsystem.
type ErrorCategory string

const (
	ErrCategorySchema       ErrorCategory = "SCHEMA"
	ErrCategoryPredicate    ErrorCategory = "PREDICATE"
	ErrCategoryPlan         ErrorCategory = "PLAN"
	ErrCategoryPrecondition ErrorCategory = "PRECONDITION"
	ErrCategoryCatalog      ErrorCategory = "CATALOG"
	ErrCategoryStorage      ErrorCategory = "STORAGE"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeSchemaConflict = "SCHEMA_CONFLICT"

	// Predicate codes
	CodeParseError = "PARSE_ERROR"

	// Plan codes
	CodePlanConstruction = "PLAN_CONSTRUCTION"
	CodeExecution        = "EXECUTION"

	// Precondition codes. These indicate caller bugs, not data problems.
	CodeNoChunks      = "NO_CHUNKS"
	CodeTableMismatch = "TABLE_MISMATCH"
	CodeEmptyBatchSet = "EMPTY_BATCH_SET"

	// Catalog codes
	CodeChunkNotFound  = "CHUNK_NOT_FOUND"
	CodeCatalogFailure = "CATALOG_FAILURE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TephraError is the structured error type used throughout the engine.
type TephraError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TephraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TephraError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TephraError) Is(target error) bool {
	var t *TephraError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TephraError.
func New(category ErrorCategory, code, message string) *TephraError {
	return &TephraError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new TephraError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *TephraError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new TephraError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TephraError {
	return &TephraError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// IsRetryable checks whether an error (or its chain) is retryable.
// Schema conflicts, malformed predicates, and precondition violations are
// never retryable: retrying without fixing the input reproduces the failure.
func IsRetryable(err error) bool {
	var te *TephraError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TephraError.
func GetCategory(err error) ErrorCategory {
	var te *TephraError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TephraError.
func GetCode(err error) string {
	var te *TephraError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Only transient
// storage and catalog failures qualify.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeCatalogFailure:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

// NewSchemaConflict reports two chunks disagreeing on a column definition.
func NewSchemaConflict(message string) *TephraError {
	return New(ErrCategorySchema, CodeSchemaConflict, message)
}

// NewParseError reports a malformed tombstone predicate or time bound.
func NewParseError(message string, cause error) *TephraError {
	return Wrap(ErrCategoryPredicate, CodeParseError, message, cause)
}

// NewPlanError reports a rejected plan construction.
func NewPlanError(message string, cause error) *TephraError {
	return Wrap(ErrCategoryPlan, CodePlanConstruction, message, cause)
}

// NewPrecondition reports caller misuse. These fail loudly and are never
// retried; they do not occur in correct production call paths.
func NewPrecondition(code, message string) *TephraError {
	return New(ErrCategoryPrecondition, code, message)
}

func NewStorageError(code, message string, cause error) *TephraError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(message string, cause error) *TephraError {
	return Wrap(ErrCategoryCatalog, CodeCatalogFailure, message, cause)
}

func NewInternalError(message string, cause error) *TephraError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
