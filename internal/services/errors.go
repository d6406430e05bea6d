package services

import (
	"errors"
	"strconv"
	"strings"

	"github.com/soaringjerry/mofasa/internal/db"
	"github.com/soaringjerry/mofasa/internal/ollama"
)

type ErrorCode string

const (
	ErrorInvalid     ErrorCode = "invalid"
	ErrorNotFound    ErrorCode = "not_found"
	ErrorConflict    ErrorCode = "conflict"
	ErrorBadGateway  ErrorCode = "bad_gateway"
	ErrorUnavailable ErrorCode = "unavailable"
	ErrorTimeout     ErrorCode = "timeout"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error    { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error   { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error   { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ParseProjectID accepts the decimal form of a project row id.
func ParseProjectID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, NewInvalidError("invalid project id: " + strconv.Quote(raw))
	}
	return id, nil
}

// storeError maps repository sentinels onto service codes.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return NewNotFoundError(what + " not found")
	case errors.Is(err, db.ErrInvalid):
		return NewInvalidError(err.Error())
	default:
		return err
	}
}

// llmError keeps the Ollama guidance text as the message.
func llmError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsServiceError(err); ok {
		return err
	}
	var oe *ollama.Error
	if errors.As(err, &oe) {
		code := ErrorUnavailable
		if errors.Is(err, ollama.ErrTimeout) {
			code = ErrorTimeout
		}
		return &ServiceError{Code: code, Message: oe.Guidance}
	}
	return NewBadGatewayError(err.Error())
}
