package repository

import (
	"context"
	"errors"
	"time"

	"portal-service/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("record already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AccountRepository is the account and phone-number store contract.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)
	// FindAccountsByPhone returns every account linked to the normalized
	// 10-digit number; an empty slice when there is none.
	FindAccountsByPhone(ctx context.Context, phone string) ([]models.AccountMatch, error)
	AddPhoneNumber(ctx context.Context, phone *models.PhoneNumber) error
	ListPhoneNumbers(ctx context.Context, accountID string) ([]models.PhoneNumber, error)
	UpdatePhoneStatus(ctx context.Context, accountID, phone string, status models.PhoneStatus) error
	HealthCheck(ctx context.Context) error
}

type PaymentFilter struct {
	Status    models.PaymentStatus
	AccountID string
	Limit     int
}

// PaymentRepository is the payment store contract.
type PaymentRepository interface {
	// CreatePayment inserts p unless the same account already holds a payment
	// with the same idempotency key, in which case that payment is returned
	// with created=false. Keys are scoped to the account.
	CreatePayment(ctx context.Context, p *models.Payment) (existing *models.Payment, created bool, err error)
	GetPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error)
	// ListPayments returns newest first.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]models.Payment, error)
	// ListDuePayments returns pending payments whose post date falls on day (UTC).
	ListDuePayments(ctx context.Context, day time.Time) ([]models.Payment, error)
	// TransitionStatus atomically moves a pending payment to next.
	TransitionStatus(ctx context.Context, paymentID string, next models.PaymentStatus) (*models.Payment, error)
	HealthCheck(ctx context.Context) error
}

// SessionStore persists verification sessions between requests.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.VerificationSession, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*models.VerificationSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// AttemptStore tracks failed credential attempts per key.
type AttemptStore interface {
	IsLocked(ctx context.Context, key string) (bool, time.Duration, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) (int, error)
	Lock(ctx context.Context, key string, window time.Duration) error
	Reset(ctx context.Context, key string) error
}

// Store bundles the two record repositories behind one backend.
type Store interface {
	Accounts() AccountRepository
	Payments() PaymentRepository
	// ApplySchema creates missing tables; it is safe to run repeatedly.
	ApplySchema(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close()
}

// DayRange returns the [start, end) UTC bounds of t's day.
func DayRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
