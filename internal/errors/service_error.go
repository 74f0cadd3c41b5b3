package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier returned to clients.
type Code string

const (
	CodeNotFound      Code = "not_found"
	CodeAlreadyExists Code = "already_exists"
	CodeInvalidInput  Code = "invalid_input"
	CodeUnauthorized  Code = "unauthorized"
	CodeInvalidToken  Code = "invalid_token"
	CodeForbidden     Code = "forbidden"
	CodeConflict      Code = "conflict"
	CodeRateLimited   Code = "rate_limited"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal"
)

// ServiceError is the transport-facing form of an error.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail key and returns the receiver.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized, Err: ErrUnauthorized}
}

func InvalidToken(err error) *ServiceError {
	if err == nil {
		err = ErrUnauthorized
	}
	return &ServiceError{Code: CodeInvalidToken, Message: "invalid or expired token", HTTPStatus: http.StatusUnauthorized, Err: err}
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "access denied"
	}
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden, Err: ErrForbidden}
}

func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeInvalidInput, Message: message, HTTPStatus: http.StatusBadRequest, Err: ErrInvalidInput}
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return (&ServiceError{Code: CodeRateLimited, Message: "too many requests", HTTPStatus: http.StatusTooManyRequests, Err: ErrRateLimited}).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// GetServiceError returns the ServiceError in err's chain, if any.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// FromError maps any error to a ServiceError. Messages of internal errors are
// not exposed.
func FromError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}

	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return (&ServiceError{Code: CodeInvalidInput, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}).
			WithDetails("field", ve.Field)
	case errors.Is(err, ErrInvalidInput):
		return &ServiceError{Code: CodeInvalidInput, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrNotFound):
		return &ServiceError{Code: CodeNotFound, Message: err.Error(), HTTPStatus: http.StatusNotFound, Err: err}
	case errors.Is(err, ErrAlreadyExists):
		return &ServiceError{Code: CodeAlreadyExists, Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, ErrConflict):
		return &ServiceError{Code: CodeConflict, Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, ErrForbidden):
		return &ServiceError{Code: CodeForbidden, Message: err.Error(), HTTPStatus: http.StatusForbidden, Err: err}
	case errors.Is(err, ErrUnauthorized):
		return &ServiceError{Code: CodeUnauthorized, Message: err.Error(), HTTPStatus: http.StatusUnauthorized, Err: err}
	case errors.Is(err, ErrRateLimited):
		return &ServiceError{Code: CodeRateLimited, Message: err.Error(), HTTPStatus: http.StatusTooManyRequests, Err: err}
	case errors.Is(err, ErrUnavailable):
		return &ServiceError{Code: CodeUnavailable, Message: err.Error(), HTTPStatus: http.StatusServiceUnavailable, Err: err}
	default:
		return Internal("internal server error", err)
	}
}
