package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string            `json:"error_code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// WithDetail attaches a client-visible detail and returns the same error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err's chain carries an AppError with the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

const (
	CodeWalletNotConfigured      = "WAL_001"
	CodeWalletBackendUnavailable = "WAL_002"
	CodeWalletUnsupported        = "WAL_003"

	CodeApprovalNotFound        = "APR_001"
	CodeApprovalAlreadyResolved = "APR_002"
	CodeApprovalTimedOut        = "APR_003"
	CodeApprovalShutDown        = "APR_004"
	CodeApprovalExpired         = "APR_005"
	CodeApprovalAlreadyAwaited  = "APR_006"

	CodeInsufficientFunds = "PAY_001"
	CodeUserRejected      = "PAY_002"
	CodeTransferFailed    = "PAY_003"
	CodeInvalidPayment    = "PAY_004"
	CodePaymentNotFound   = "PAY_005"
	CodeDuplicatePayment  = "PAY_006"
)

// ---- Wallet (WAL) ----

func ErrWalletNotConfigured(err error) *AppError {
	return Wrap(CodeWalletNotConfigured, "Wallet is not configured", http.StatusServiceUnavailable, err)
}

func ErrWalletBackendUnavailable(err error) *AppError {
	return Wrap(CodeWalletBackendUnavailable, "Wallet backend unavailable", http.StatusBadGateway, err)
}

func ErrWalletUnsupported(operation string) *AppError {
	return New(CodeWalletUnsupported, fmt.Sprintf("%s is not supported by the active wallet backend", operation), http.StatusNotImplemented)
}

// ---- Approval gate (APR) ----

func ErrApprovalNotFound() *AppError {
	return New(CodeApprovalNotFound, "Approval request not found", http.StatusNotFound)
}

func ErrApprovalAlreadyResolved() *AppError {
	return New(CodeApprovalAlreadyResolved, "Approval request already resolved", http.StatusConflict)
}

func ErrApprovalTimedOut() *AppError {
	return New(CodeApprovalTimedOut, "Timed out waiting for approval", http.StatusRequestTimeout)
}

func ErrApprovalShutDown() *AppError {
	return New(CodeApprovalShutDown, "Approval gate is shut down", http.StatusServiceUnavailable)
}

func ErrApprovalExpired() *AppError {
	return New(CodeApprovalExpired, "Approval request expired", http.StatusGone)
}

func ErrApprovalAlreadyAwaited() *AppError {
	return New(CodeApprovalAlreadyAwaited, "Approval request already has a waiter", http.StatusConflict)
}

// ---- Payment Business Logic (PAY) ----

func ErrInsufficientFunds(required, available decimal.Decimal) *AppError {
	return New(CodeInsufficientFunds,
		fmt.Sprintf("Insufficient balance: required %s, available %s", required, available),
		http.StatusPaymentRequired).
		WithDetail("required", required.String()).
		WithDetail("available", available.String())
}

func ErrUserRejected() *AppError {
	return New(CodeUserRejected, "Payment rejected by user", http.StatusConflict)
}

func ErrTransferFailed(cause error) *AppError {
	return Wrap(CodeTransferFailed, "Transfer failed", http.StatusBadGateway, cause)
}

func ErrInvalidPayment(message string) *AppError {
	return New(CodeInvalidPayment, message, http.StatusBadRequest)
}

func ErrPaymentNotFound() *AppError {
	return New(CodePaymentNotFound, "Payment not found", http.StatusNotFound)
}

func ErrDuplicatePayment(existingID string) *AppError {
	return New(CodeDuplicatePayment, "Payment with this reference already submitted", http.StatusConflict).
		WithDetail("payment_id", existingID)
}

// ---- Authentication (AUTH) ----

func ErrMissingToken() *AppError {
	return New("AUTH_001", "Missing bearer token", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrTokenScope(scope string) *AppError {
	return New("AUTH_003", fmt.Sprintf("Token does not carry the %s scope", scope), http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- Validation (VAL) ----

// Validation returns a VAL_001 request validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrCacheError(err error) *AppError {
	return Wrap("SYS_002", "Cache unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
