package common

import (
	"errors"
	"net/http"
)

// Error kinds shared by every checkout component. Callers branch on them with errors.Is.
var (
	// ErrValidation marks bad cart, quantity, package or payload data. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing record (quote, order, price).
	ErrNotFound = errors.New("not found")
	// ErrExpired marks a record whose TTL has lapsed.
	ErrExpired = errors.New("expired")
	// ErrCarrierUnavailable is returned when no carrier module produced a rate.
	ErrCarrierUnavailable = errors.New("carrier unavailable")
	// ErrNoApplicablePackage is returned when an item does not fit any configured package type.
	ErrNoApplicablePackage = errors.New("no applicable package")
	// ErrTaxConfigurationMissing is returned when tax is mandatory but no rule applies.
	ErrTaxConfigurationMissing = errors.New("tax configuration missing")
	// ErrTransactionStateConflict is returned when a capture or refund would break ledger invariants.
	ErrTransactionStateConflict = errors.New("transaction state conflict")
	// ErrStoreMismatch is returned when a record is addressed through a store it does not belong to.
	ErrStoreMismatch = errors.New("store mismatch")
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Unwrap allows errors.Is/As to inspect the underlying error.
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

// WithDetails attaches context (ids, offending amounts) rendered to the client.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// Validation wraps ErrValidation (or a finer kind derived from it).
func Validation(kind error, message string) *AppError {
	if kind == nil {
		kind = ErrValidation
	}
	return NewAppError("VALIDATION_ERROR", message, http.StatusUnprocessableEntity, kind)
}

// NotFound wraps ErrNotFound.
func NotFound(message string) *AppError {
	return NewAppError("NOT_FOUND", message, http.StatusNotFound, ErrNotFound)
}

// Expired wraps ErrExpired.
func Expired(message string) *AppError {
	return NewAppError("EXPIRED", message, http.StatusGone, ErrExpired)
}

// CarrierUnavailable wraps ErrCarrierUnavailable together with the per-carrier causes.
func CarrierUnavailable(message string, causes error) *AppError {
	err := ErrCarrierUnavailable
	if causes != nil {
		err = errors.Join(ErrCarrierUnavailable, causes)
	}
	return NewAppError("CARRIER_UNAVAILABLE", message, http.StatusBadGateway, err)
}

// NoApplicablePackage wraps ErrNoApplicablePackage.
func NoApplicablePackage(message string) *AppError {
	return NewAppError("NO_APPLICABLE_PACKAGE", message, http.StatusUnprocessableEntity, ErrNoApplicablePackage)
}

// TaxConfigurationMissing wraps ErrTaxConfigurationMissing.
func TaxConfigurationMissing(message string) *AppError {
	return NewAppError("TAX_CONFIGURATION_MISSING", message, http.StatusUnprocessableEntity, ErrTaxConfigurationMissing)
}

// TransactionStateConflict wraps ErrTransactionStateConflict.
func TransactionStateConflict(message string) *AppError {
	return NewAppError("TRANSACTION_STATE_CONFLICT", message, http.StatusConflict, ErrTransactionStateConflict)
}

// StoreMismatch wraps ErrStoreMismatch.
func StoreMismatch(message string) *AppError {
	return NewAppError("STORE_MISMATCH", message, http.StatusForbidden, ErrStoreMismatch)
}
