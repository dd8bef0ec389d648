package scylla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-service/internal/bucketing"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

type PaymentRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewPaymentRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *PaymentRepository {
	return &PaymentRepository{
		client:    client,
		bucketing: bm,
	}
}

// paymentRow mirrors the payments table before decimal and optional
// columns are decoded.
type paymentRow struct {
	models.Payment
	amount         string
	monthlyPayment string
	postDate       time.Time
	paymentType    string
	status         string
}

func (row *paymentRow) dest() []interface{} {
	return []interface{}{
		&row.PaymentID, &row.AccountID, &row.DebtorName, &row.amount, &row.paymentType,
		&row.PaymentDate, &row.postDate, &row.monthlyPayment, &row.status,
		&row.EncryptedDetails, &row.IdempotencyKey, &row.Source, &row.CreatedAt, &row.UpdatedAt,
	}
}

func (row *paymentRow) decode() (*models.Payment, error) {
	p := row.Payment
	amount, err := parseDecimalText(row.amount)
	if err != nil {
		return nil, err
	}
	if amount != nil {
		p.Amount = *amount
	}
	if p.MonthlyPayment, err = parseDecimalText(row.monthlyPayment); err != nil {
		return nil, err
	}
	p.PostDate = timePtr(row.postDate)
	p.PaymentType = models.PaymentType(row.paymentType)
	p.Status = models.PaymentStatus(row.status)
	return &p, nil
}

// CreatePayment claims the account's idempotency key with a lightweight
// transaction before writing the payment and its lookup rows.
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

	created, fresh, err := createWithClaim(ctx, cqlClaims{client: r.client}, p, now, r.writePayment, r.GetPaymentByID)
	if err != nil || !fresh {
		return created, fresh, err
	}
	util.Info("Payment created",
		zap.String("payment_id", p.PaymentID),
		zap.String("account_id", p.AccountID),
		zap.String("payment_type", string(p.PaymentType)))
	return created, true, nil
}

func (r *PaymentRepository) writePayment(ctx context.Context, p *models.Payment) error {
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(r.client.Statements.CreatePayment,
		p.PaymentID, p.AccountID, p.DebtorName, p.Amount.String(), string(p.PaymentType), p.PaymentDate,
		optionalTime(p.PostDate), decimalText(p.MonthlyPayment), string(p.Status),
		p.EncryptedDetails, p.IdempotencyKey, p.Source, p.CreatedAt, p.UpdatedAt)
	batch.Query(r.client.Statements.CreatePaymentByAcct,
		p.AccountID, p.CreatedAt, p.PaymentID, string(p.Status))
	if p.PostDate != nil {
		batch.Query(r.client.Statements.CreatePaymentByPost,
			r.bucketing.DateBucket(*p.PostDate), p.PaymentID)
	}
	return r.client.ExecuteBatch(batch)
}

func (r *PaymentRepository) GetPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	var row paymentRow
	query := r.client.Query(ctx, r.client.Statements.GetPayment, paymentID)
	if err := r.client.ScanWithRetry(query, row.dest()...); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("payment %s: %w", paymentID, repository.ErrNotFound)
		}
		util.Error("Failed to get payment",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return row.decode()
}

func (r *PaymentRepository) getPayments(ctx context.Context, ids []string) ([]models.Payment, error) {
	payments := make([]models.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetPaymentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, nil
}

func (r *PaymentRepository) collectIDs(ctx context.Context, stmt string, key string) ([]string, error) {
	iter := r.client.Query(ctx, stmt, key).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read payment index: %w", err)
	}
	return ids, nil
}

// ListPayments reads an account's index partition when an account is
// given and otherwise scans the payments table.
func (r *PaymentRepository) ListPayments(ctx context.Context, filter repository.PaymentFilter) ([]models.Payment, error) {
	var payments []models.Payment

	if filter.AccountID != "" {
		ids, err := r.collectIDs(ctx, r.client.Statements.ListPaymentsByAcct, filter.AccountID)
		if err != nil {
			return nil, err
		}
		if payments, err = r.getPayments(ctx, ids); err != nil {
			return nil, err
		}
	} else {
		iter := r.client.Query(ctx, r.client.Statements.ListPayments).Iter()
		var row paymentRow
		for iter.Scan(row.dest()...) {
			p, err := row.decode()
			if err != nil {
				_ = iter.Close()
				return nil, err
			}
			payments = append(payments, *p)
			row = paymentRow{}
		}
		if err := iter.Close(); err != nil {
			util.Error("Failed to scan payments", zap.Error(err))
			return nil, fmt.Errorf("failed to list payments: %w", err)
		}
	}

	return applyPaymentFilter(payments, filter), nil
}

func applyPaymentFilter(payments []models.Payment, filter repository.PaymentFilter) []models.Payment {
	out := make([]models.Payment, 0, len(payments))
	for _, p := range payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.AccountID != "" && p.AccountID != filter.AccountID {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (r *PaymentRepository) ListDuePayments(ctx context.Context, day time.Time) ([]models.Payment, error) {
	ids, err := r.collectIDs(ctx, r.client.Statements.ListPaymentsByPost, r.bucketing.DateBucket(day))
	if err != nil {
		return nil, err
	}
	payments, err := r.getPayments(ctx, ids)
	if err != nil {
		return nil, err
	}
	return applyPaymentFilter(payments, repository.PaymentFilter{Status: models.PaymentStatusPending}), nil
}

// TransitionStatus guards the update with IF status = 'pending' so two
// operators cannot both settle the same payment.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, paymentID string, next models.PaymentStatus) (*models.Payment, error) {
	current, err := r.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(next) {
		return nil, fmt.Errorf("%s to %s: %w", current.Status, next, repository.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	applied, err := r.client.Query(ctx, r.client.Statements.TransitionPayment,
		string(next), now, paymentID, string(models.PaymentStatusPending)).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to transition payment",
			zap.String("payment_id", paymentID),
			zap.String("next_status", string(next)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("payment %s no longer pending: %w", paymentID, repository.ErrInvalidTransition)
	}

	if err := r.client.Query(ctx, r.client.Statements.UpdatePaymentByAcct,
		string(next), current.AccountID, current.CreatedAt, paymentID).Exec(); err != nil {
		util.Warn("Failed to update payment account index",
			zap.String("payment_id", paymentID),
			zap.Error(err))
	}

	current.Status = next
	current.UpdatedAt = now
	util.Info("Payment status changed",
		zap.String("payment_id", paymentID),
		zap.String("status", string(next)))
	return current, nil
}

func (r *PaymentRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
