package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrDatabase           = errors.New("database error")
	ErrValidation         = errors.New("validation failed")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrAlreadyWritten     = errors.New("already written")
	ErrJobTerminal        = errors.New("job already finished")
	ErrNotReady           = errors.New("job not completed")
	ErrCancelled          = errors.New("job cancelled")
	ErrTransient          = errors.New("transient executor error")
	ErrPermanent          = errors.New("permanent executor error")
)

// ErrInvalidQuestion is returned when an edit or write would break the
// single-correct-option rule. It matches ErrInvariantViolation too.
var ErrInvalidQuestion = fmt.Errorf("invalid question: %w", ErrInvariantViolation)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NotFoundf wraps ErrNotFound with a formatted subject.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

// GRPCCode classifies err for the RPC surface.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInvariantViolation), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, ErrAlreadyWritten):
		return codes.AlreadyExists
	case errors.Is(err, ErrJobTerminal), errors.Is(err, ErrNotReady):
		return codes.FailedPrecondition
	case errors.Is(err, ErrTransient):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// ToGRPC converts a domain error into a status error. Internal errors hide
// their cause from the client.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := GRPCCode(err)
	if code == codes.Internal {
		return InternalError("internal error")
	}
	return status.Error(code, err.Error())
}

// HTTPStatus classifies err for the REST surface.
func HTTPStatus(err error) int {
	switch GRPCCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.AlreadyExists, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// StatusError is a non-2xx reply from an upstream HTTP API. It matches
// ErrTransient for 408, 429 and 5xx, and ErrPermanent otherwise.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "...(truncated)"
	}
	return fmt.Sprintf("%s status %d: %s", e.Service, e.Code, body)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return RetryableStatus(e.Code)
	case ErrPermanent:
		return !RetryableStatus(e.Code)
	}
	return false
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
