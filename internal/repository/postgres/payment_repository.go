package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

const paymentColumns = `
    id, account_id, debtor_name, amount::text, payment_type, payment_date, post_date,
    monthly_payment::text, status, encrypted_details, idempotency_key, source, created_at, updated_at`

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var amount string
	var monthly *string
	var paymentType, status string
	if err := row.Scan(&p.PaymentID, &p.AccountID, &p.DebtorName, &amount, &paymentType, &p.PaymentDate,
		&p.PostDate, &monthly, &status, &p.EncryptedDetails, &p.IdempotencyKey, &p.Source,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := parseNumeric(&amount)
	if err != nil {
		return nil, err
	}
	p.Amount = *parsed
	if p.MonthlyPayment, err = parseNumeric(monthly); err != nil {
		return nil, err
	}
	p.PaymentType = models.PaymentType(paymentType)
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

const (
	insertPaymentSQL = `
        INSERT INTO payments (
            id, account_id, debtor_name, amount, payment_type, payment_date, post_date,
            monthly_payment, status, encrypted_details, idempotency_key, source, created_at, updated_at
        ) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (account_id, idempotency_key) DO NOTHING
        RETURNING ` + paymentColumns

	paymentByKeySQL = `SELECT ` + paymentColumns + ` FROM payments WHERE account_id = $1 AND idempotency_key = $2`
)

// CreatePayment relies on the unique (account_id, idempotency_key) index; a
// conflicting insert returns the account's payment that already holds the key.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	if p.PaymentID == "" {
		p.PaymentID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.PaymentDate.IsZero() {
		p.PaymentDate = now
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}

	amount := p.Amount.String()
	created, err := scanPayment(r.db.QueryRow(ctx, insertPaymentSQL,
		p.PaymentID, p.AccountID, p.DebtorName, amount, string(p.PaymentType), p.PaymentDate,
		p.PostDate, numericArg(p.MonthlyPayment), string(p.Status), p.EncryptedDetails,
		p.IdempotencyKey, p.Source, p.CreatedAt, p.UpdatedAt))
	if err == nil {
		util.Info("Payment created",
			zap.String("payment_id", created.PaymentID),
			zap.String("account_id", created.AccountID),
			zap.String("payment_type", string(created.PaymentType)))
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		util.Error("Failed to create payment",
			zap.String("payment_id", p.PaymentID),
			zap.String("account_id", p.AccountID),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}

	existing, err := scanPayment(r.db.QueryRow(ctx, paymentByKeySQL, p.AccountID, p.IdempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("idempotency key already used: %w", repository.ErrConflict)
	}
	util.Info("Duplicate payment submission",
		zap.String("payment_id", existing.PaymentID),
		zap.String("account_id", existing.AccountID))
	return existing, false, nil
}

func (r *PaymentRepository) GetPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentID, repository.ErrNotFound)
		}
		util.Error("Failed to get payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// buildListQuery renders the filtered, newest-first payment listing.
func buildListQuery(filter repository.PaymentFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (r *PaymentRepository) queryPayments(ctx context.Context, query string, args ...interface{}) ([]models.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		util.Error("Failed to list payments", zap.Error(err))
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) ListPayments(ctx context.Context, filter repository.PaymentFilter) ([]models.Payment, error) {
	query, args := buildListQuery(filter)
	return r.queryPayments(ctx, query, args...)
}

func (r *PaymentRepository) ListDuePayments(ctx context.Context, day time.Time) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
        WHERE status = 'pending' AND post_date = $1::date
        ORDER BY created_at DESC, id`
	return r.queryPayments(ctx, query, day.UTC().Format("2006-01-02"))
}

// TransitionStatus only matches rows still pending, so concurrent
// decisions on one payment cannot both succeed.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, paymentID string, next models.PaymentStatus) (*models.Payment, error) {
	if !models.PaymentStatusPending.CanTransition(next) {
		return nil, fmt.Errorf("pending to %s: %w", next, repository.ErrInvalidTransition)
	}

	query := `
        UPDATE payments SET status = $1, updated_at = now()
        WHERE id = $2 AND status = 'pending'
        RETURNING ` + paymentColumns
	p, err := scanPayment(r.db.QueryRow(ctx, query, string(next), paymentID))
	if err == nil {
		util.Info("Payment status changed",
			zap.String("payment_id", paymentID),
			zap.String("status", string(next)))
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		util.Error("Failed to transition payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}

	current, err := r.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s to %s: %w", current.Status, next, repository.ErrInvalidTransition)
}

func (r *PaymentRepository) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, r.db)
}
