// Package apperror provides structured error handling for the count platform.
// All business errors use AppError so callers can distinguish "fix your
// input" from "retry later" from "someone beat you to it".
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Conflict errors (409) — retry-as-is is wrong, the caller must change
	// something: the count was grabbed by someone else, the transition is
	// illegal, or the items already belong to an open count.
	CodeConflict           = "CONFLICT"
	CodeStatusConflict     = "STATUS_CONFLICT"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeDuplicateOpenCount = "DUPLICATE_OPEN_COUNT"

	// Business rule violations (422)
	CodeBusinessRule = "BUSINESS_RULE_VIOLATION"
	CodeItemCap      = "ITEM_LIMIT_EXCEEDED"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Branch degradation (503) — the target branch database is unreachable
	// or missing an expected table and no degraded answer makes sense.
	CodeBranchUnavailable = "BRANCH_UNAVAILABLE"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (conflicting folios, item codes, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewConflict creates a generic conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewStatusConflict is returned when a conditional status update affected
// zero rows: another operator already moved the count.
func NewStatusConflict(entity string, id any, expected string) *AppError {
	return &AppError{
		Code:       CodeStatusConflict,
		Message:    fmt.Sprintf("%s was already moved out of status %q by another user", entity, expected),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id, "expected_status": expected},
	}
}

// NewInvalidTransition is returned for a transition the state machine forbids.
func NewInvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("cannot transition %s from %q to %q", entity, from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "from": from, "to": to},
	}
}

// NewDuplicateOpenCount rejects a count creation whose items already belong
// to open counts. conflicts carries one entry per item (item, folio, status).
func NewDuplicateOpenCount(conflicts []map[string]any) *AppError {
	return &AppError{
		Code:       CodeDuplicateOpenCount,
		Message:    "some items already belong to an open count for this warehouse",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"conflicts": conflicts},
	}
}

// NewItemCap rejects an operation whose item set exceeds the hard cap.
func NewItemCap(requested, limit int) *AppError {
	return &AppError{
		Code:       CodeItemCap,
		Message:    fmt.Sprintf("item set of %d exceeds the limit of %d", requested, limit),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"requested": requested, "limit": limit},
	}
}

// NewBranchUnavailable is returned when a branch database cannot serve a
// query that has no sensible degraded answer (e.g. catalog validation).
func NewBranchUnavailable(branchID int64, err error) *AppError {
	return &AppError{
		Code:       CodeBranchUnavailable,
		Message:    "branch database is unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"branch_id": branchID},
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsConflict checks for any of the conflict-family codes.
func IsConflict(err error) bool {
	return hasCode(err, CodeConflict) ||
		hasCode(err, CodeStatusConflict) ||
		hasCode(err, CodeInvalidTransition) ||
		hasCode(err, CodeDuplicateOpenCount)
}

// IsBranchUnavailable checks if error is CodeBranchUnavailable
func IsBranchUnavailable(err error) bool {
	return hasCode(err, CodeBranchUnavailable)
}

func hasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
