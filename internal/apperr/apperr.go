package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and the HTTP layer.
type Code string

const (
	Validation          Code = "validation"
	NotFound            Code = "not-found"
	InsufficientBalance Code = "insufficient-balance"
	ExternalTransfer    Code = "external-transfer"
	Conflict            Code = "conflict"
	Internal            Code = "internal"
)

// Short machine-readable reasons reported alongside the code.
const (
	ReasonInvalidNetwork      = "InvalidNetwork"
	ReasonInactiveEmployee    = "InactiveEmployee"
	ReasonEmptySet            = "EmptySet"
	ReasonMixedAssets         = "MixedAssets"
	ReasonEmptyFile           = "EmptyFile"
	ReasonNoneActive          = "NoneActive"
	ReasonNotFailed           = "NotFailed"
	ReasonNotFound            = "NotFound"
	ReasonInsufficientBalance = "InsufficientBalance"
	ReasonInvalidInput        = "InvalidInput"
	ReasonUnknownAsset        = "UnknownAsset"
	ReasonBatchSettled        = "BatchSettled"
	ReasonInvalidTransition   = "InvalidTransition"
	ReasonDuplicateDeposit    = "DuplicateDeposit"
	ReasonRequestInProgress   = "RequestInProgress"
	ReasonDuplicateRequest    = "DuplicateRequest"
	ReasonMissingActor        = "MissingActor"
)

// Error is the coded error returned across service boundaries.
type Error struct {
	Code    Code
	Reason  string
	Message string // human-readable, safe to show to the caller
	Err     error  // optional cause
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error with a formatted message.
func New(code Code, reason, format string, args ...any) error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error that keeps cause reachable through errors.Is/As.
func Wrap(cause error, code Code, reason, format string, args ...any) error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...), Err: cause}
}

// As returns the first *Error in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason string) bool {
	if e, ok := As(err); ok {
		return e.Reason == reason
	}
	return false
}

// HTTPStatus maps an error to the status the API responds with.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InsufficientBalance:
		return http.StatusUnprocessableEntity
	case ExternalTransfer:
		return http.StatusBadGateway
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
