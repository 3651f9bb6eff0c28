// Package errors provides structured error types for the sheet engine.
// Every error carries a category, a code, a human-readable message and an
// optional cause, so the API layer can map failures without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies errors by the kind of failure.
type ErrorCategory string

const (
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryImport     ErrorCategory = "IMPORT"
	ErrCategoryCreation   ErrorCategory = "CREATION"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryCoercion   ErrorCategory = "COERCION"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryOperation  ErrorCategory = "OPERATION"
)

// Error codes for each category.
const (
	// Not found codes
	CodeSheetNotFound = "SHEET_NOT_FOUND"
	CodeRowNotFound   = "ROW_NOT_FOUND"
	CodeTableNotFound = "TABLE_NOT_FOUND"

	// Schema codes
	CodeColumnExists      = "COLUMN_EXISTS"
	CodeColumnNotFound    = "COLUMN_NOT_FOUND"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeIdentifierColumn  = "IDENTIFIER_COLUMN"
	CodeReservedColumn    = "RESERVED_COLUMN"
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"
	CodeRebuildFailed     = "REBUILD_FAILED"

	// Import codes
	CodeMalformedSource  = "MALFORMED_SOURCE"
	CodeUnreadableSource = "UNREADABLE_SOURCE"
	CodeEmptySource      = "EMPTY_SOURCE"
	CodeUnknownFormat    = "UNKNOWN_FORMAT"

	// Creation codes
	CodeInvalidName       = "INVALID_NAME"
	CodeInvalidDimensions = "INVALID_DIMENSIONS"

	// Validation codes
	CodeInvalidPosition = "INVALID_POSITION"
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// Coercion codes
	CodeCastFailed = "CAST_FAILED"

	// Query codes
	CodeQueryFailed = "QUERY_FAILED"
	CodeEmptyQuery  = "EMPTY_QUERY"

	// Operation codes
	CodeStorageFailure = "STORAGE_FAILURE"
	CodeStorageBusy    = "STORAGE_BUSY"
	CodeUnexpected     = "UNEXPECTED"
)

// SheetError is the structured error type used throughout the engine.
type SheetError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SheetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SheetError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SheetError) Is(target error) bool {
	var t *SheetError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SheetError.
func New(category ErrorCategory, code, message string) *SheetError {
	return &SheetError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SheetError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SheetError {
	return &SheetError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SheetError) WithDetails(details map[string]interface{}) *SheetError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SheetError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return GetCategory(err) == ErrCategoryNotFound
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SheetError.
func GetCategory(err error) ErrorCategory {
	var se *SheetError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SheetError.
func GetCode(err error) string {
	var se *SheetError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HTTPStatus maps an error to the status code the API layer reports.
// Only missing sheets and rows are distinguishable; every other failure is
// an operation error.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryOperation && code == CodeStorageBusy
}

// Convenience constructors for common errors.

func NewNotFoundError(code, message string) *SheetError {
	return New(ErrCategoryNotFound, code, message)
}

func SheetNotFound(sheetID string) *SheetError {
	return New(ErrCategoryNotFound, CodeSheetNotFound, fmt.Sprintf("sheet %q not found", sheetID)).
		WithDetails(map[string]interface{}{"sheet_id": sheetID})
}

func NewSchemaError(code, message string) *SheetError {
	return New(ErrCategorySchema, code, message)
}

func NewImportError(code, message string, cause error) *SheetError {
	return Wrap(ErrCategoryImport, code, message, cause)
}

func NewCreationError(code, message string) *SheetError {
	return New(ErrCategoryCreation, code, message)
}

func NewValidationError(code, message string) *SheetError {
	return New(ErrCategoryValidation, code, message)
}

func NewCoercionError(message string, cause error) *SheetError {
	return Wrap(ErrCategoryCoercion, CodeCastFailed, message, cause)
}

func NewQueryError(message string, cause error) *SheetError {
	return Wrap(ErrCategoryQuery, CodeQueryFailed, message, cause)
}

func NewOperationError(message string, cause error) *SheetError {
	return Wrap(ErrCategoryOperation, CodeStorageFailure, message, cause)
}

func NewBusyError(message string, cause error) *SheetError {
	return Wrap(ErrCategoryOperation, CodeStorageBusy, message, cause)
}

func NewInternalError(message string, cause error) *SheetError {
	return Wrap(ErrCategoryOperation, CodeUnexpected, message, cause)
}
