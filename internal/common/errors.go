package common

import (
	"errors"
	"net/http"
)

// Error codes rendered in the "error.code" field of API responses.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "IDEMPOTENT_REPLAY"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// AppError is an error that already knows how it is rendered to API clients.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WriteAppError renders err when it wraps an AppError and reports whether it
// did. A missing status falls back to fallback, a missing code to BAD_REQUEST.
func WriteAppError(w http.ResponseWriter, err error, fallback int) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = fallback
	}
	code := appErr.Code
	if code == "" {
		code = CodeBadRequest
	}
	JSONError(w, status, code, appErr.Message, appErr.Details)
	return true
}
