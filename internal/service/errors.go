package service

import (
	"errors"
	"fmt"

	"portal-service/internal/repository"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrSelectionRequired  = errors.New("account selection required")
	ErrAuthentication     = errors.New("authentication failed")
	ErrPersistence        = errors.New("persistence failure")
	ErrLocked             = errors.New("too many failed attempts")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrBalanceUnavailable = errors.New("balance unavailable")
	ErrDemoDisabled       = errors.New("demo mode is disabled")
	ErrSessionNotFound    = errors.New("session not found")
	ErrWrongStep          = errors.New("operation not allowed at this step")
	ErrNotConfigured      = errors.New("collaborator not configured")
	ErrConflict           = errors.New("idempotency key conflict")
)

// Messages shown to the consumer. They never echo input.
const (
	msgInvalidPhone       = "Please enter a valid 10-digit phone number."
	msgPhoneNotFound      = "Phone number not found. Please enter the number we called you at."
	msgSelectAccount      = "Please select an account to continue."
	msgAccountNotFound    = "Account not found."
	msgInvalidSSN         = "Invalid SSN. Please check the last 4 digits and try again."
	msgLocked             = "Too many attempts. Please try again later."
	msgTemporaryFailure   = "Something went wrong. Please try again."
	msgBalanceUnavailable = "Your balance is not available right now. Please contact us."
	msgPaymentConflict    = "This payment is already being processed. Please try again shortly."
)

// UserMessage returns the consumer-facing text for err.
func UserMessage(err error) string {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Message
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSelectionRequired):
		return msgSelectAccount
	case errors.Is(err, ErrAuthentication):
		return msgInvalidSSN
	case errors.Is(err, ErrLocked):
		return msgLocked
	case errors.Is(err, ErrBalanceUnavailable):
		return msgBalanceUnavailable
	case errors.Is(err, ErrNotFound):
		return msgAccountNotFound
	case errors.Is(err, ErrConflict):
		return msgPaymentConflict
	case errors.Is(err, ErrValidation):
		return "Please check the highlighted fields and try again."
	default:
		return msgTemporaryFailure
	}
}

// FlowError is a failure of a consumer flow step. Kind is one of the
// sentinels above and Message is safe to show to the consumer.
type FlowError struct {
	Kind    error
	Message string
}

func (e *FlowError) Error() string { return e.Kind.Error() + ": " + e.Message }
func (e *FlowError) Unwrap() error { return e.Kind }

func fail(kind error, message string) error {
	return &FlowError{Kind: kind, Message: message}
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError translates repository sentinels to service errors.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, repository.ErrInvalidTransition):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
	}
}
