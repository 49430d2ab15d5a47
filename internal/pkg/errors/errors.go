// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes.
const (
	// Request errors.
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnknownMetric  = "UNKNOWN_METRIC"
	CodeRange          = "RANGE_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"

	// Data errors.
	CodeShape             = "SHAPE_ERROR"
	CodeUserCountMismatch = "USER_COUNT_MISMATCH"
	CodeCoverage          = "COVERAGE_ERROR"
	CodeEmptyHits         = "EMPTY_HITS"

	// Server errors.
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest, CodeUnknownMetric, CodeRange:
		return http.StatusBadRequest
	case CodeShape, CodeUserCountMismatch, CodeCoverage, CodeEmptyHits:
		return http.StatusUnprocessableEntity
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// ShapeError reports a score matrix that is not two-dimensional.
func ShapeError(message string) *AppError {
	return New(CodeShape, "scores must be a 2-dimensional matrix: "+message)
}

// RangeError reports a cutoff or k outside the admissible range.
func RangeError(message string) *AppError {
	return New(CodeRange, message)
}

// UnknownMetricError reports a metric name outside the supported set.
func UnknownMetricError(name string, valid []string) *AppError {
	return New(CodeUnknownMetric,
		fmt.Sprintf("metric %q is not supported, available ones are: %s", name, strings.Join(valid, ", "))).
		WithDetail("metric", name).
		WithDetail("available", strings.Join(valid, ","))
}

// UserCountMismatchError reports a user id list whose length differs from
// the number of score matrix rows.
func UserCountMismatchError(userIDs, rows int) *AppError {
	return New(CodeUserCountMismatch,
		fmt.Sprintf("number of user ids does not match scores shape: %d user ids, %d rows", userIDs, rows)).
		WithDetail("user_ids", fmt.Sprintf("%d", userIDs)).
		WithDetail("rows", fmt.Sprintf("%d", rows))
}

// CoverageError reports ground truth and prediction tables that do not
// cover the same users.
func CoverageError(truthUsers, predictedUsers, commonUsers int) *AppError {
	return New(CodeCoverage,
		fmt.Sprintf("missing predictions for some users: ground truth users: %d, predicted users: %d, common users: %d",
			truthUsers, predictedUsers, commonUsers)).
		WithDetail("ground_truth_users", fmt.Sprintf("%d", truthUsers)).
		WithDetail("predicted_users", fmt.Sprintf("%d", predictedUsers)).
		WithDetail("common_users", fmt.Sprintf("%d", commonUsers))
}

// EmptyHitsError reports that no recommendation matched the ground truth.
func EmptyHitsError(cutoff int) *AppError {
	return New(CodeEmptyHits, fmt.Sprintf("no recommendation within cutoff %d matched the ground truth", cutoff)).
		WithDetail("cutoff", fmt.Sprintf("%d", cutoff))
}

// PayloadTooLargeError reports a request body over the limit.
func PayloadTooLargeError(limit int64) *AppError {
	return New(CodeTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit)).
		WithDetail("limit", fmt.Sprintf("%d", limit))
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// CodeOf returns the code of the first AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// If err carries an *AppError, its code and status are used.
// Other errors are reported as internal without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
