package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrStaleObservation     ErrorType = "STALE_OBSERVATION"
	ErrUnregisteredCurrency ErrorType = "UNREGISTERED_CURRENCY"
	ErrArithmeticOverflow   ErrorType = "ARITHMETIC_OVERFLOW"
	ErrInsufficientReserve  ErrorType = "INSUFFICIENT_RESERVE"
	ErrLedgerFailure        ErrorType = "LEDGER_FAILURE"
	ErrSettlementInFlight   ErrorType = "SETTLEMENT_IN_FLIGHT"
	ErrInvalidRequest       ErrorType = "INVALID_REQUEST"
	ErrUnauthorized         ErrorType = "UNAUTHORIZED"
	ErrNotFound             ErrorType = "NOT_FOUND"
	ErrInternal             ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
	}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound, ErrUnregisteredCurrency:
		return http.StatusNotFound
	case ErrSettlementInFlight:
		return http.StatusConflict
	case ErrStaleObservation, ErrInsufficientReserve, ErrArithmeticOverflow:
		return http.StatusUnprocessableEntity
	case ErrLedgerFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
