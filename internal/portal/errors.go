package portal

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError means the backend could not be reached: network failure,
// timeout, cancelled context or an open circuit breaker.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport error: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError carries a non-2xx backend response.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: unexpected status code: %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: unexpected status code: %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// ConflictError is a 400/409: the resource is no longer available, the
// request was already processed, or the input was rejected.
type ConflictError struct{ *StatusError }

// AuthError is a 401/403, or a session that resolves to no user.
type AuthError struct{ *StatusError }

// NotFoundError is a 404.
type NotFoundError struct{ *StatusError }

// ServerError is a 5xx or any other unexpected status.
type ServerError struct{ *StatusError }

func (e *ConflictError) Unwrap() error { return e.StatusError }
func (e *AuthError) Unwrap() error { return e.StatusError }
func (e *NotFoundError) Unwrap() error { return e.StatusError }
func (e *ServerError) Unwrap() error { return e.StatusError }

// classify maps a response status to the error taxonomy.
func classify(method, path string, status int, message string) error {
	se := &StatusError{Method: method, Path: path, Status: status, Message: message}
	switch {
	case status == http.StatusBadRequest || status == http.StatusConflict:
		return &ConflictError{se}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{se}
	case status == http.StatusNotFound:
		return &NotFoundError{se}
	default:
		return &ServerError{se}
	}
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsServer reports whether err is a ServerError.
func IsServer(err error) bool {
	var target *ServerError
	return errors.As(err, &target)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// ErrorKind names the taxonomy class of err, for logs, metrics and notifications.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConflict(err):
		return "conflict"
	case IsAuth(err):
		return "auth"
	case IsNotFound(err):
		return "not_found"
	case IsServer(err):
		return "server"
	case IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}

// NewConflict builds a ConflictError for a decision made without a round trip,
// e.g. acting on a request already known to be terminal.
func NewConflict(method, path, message string) error {
	return &ConflictError{&StatusError{Method: method, Path: path, Status: http.StatusConflict, Message: message}}
}
