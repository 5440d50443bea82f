// Package governor holds the error vocabulary shared across every component
// of the decision pipeline. Boundary errors are values, not exceptions: a
// GovernorError is something a caller is expected to branch on, never a
// programming defect.
package governor

import "fmt"

// Code is a machine-readable error classification. Every Code maps to a
// fixed HTTP status class at the API boundary.
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden   Code = "FORBIDDEN"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeTimeout     Code = "TIMEOUT"
	CodeInternal    Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status class associated with a Code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeRateLimited:
		return 429
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// Error is the boundary error type returned by every public operation in the
// pipeline. Internal details never leak into Message; they belong in logs.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request %s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRequestID returns a copy of e carrying the given request id.
func (e *Error) WithRequestID(id string) *Error {
	cp := *e
	cp.RequestID = id
	return &cp
}

// ValidationError is a field-level detail attached to a VALIDATION_ERROR.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationErrors collects field errors; it satisfies the error interface so
// it can be returned directly from validators.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", v.Errors[0].Path, v.Errors[0].Message)
}

func (v *ValidationErrors) Add(path, message, code string) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: message, Code: code})
}

func (v *ValidationErrors) Valid() bool {
	return len(v.Errors) == 0
}
