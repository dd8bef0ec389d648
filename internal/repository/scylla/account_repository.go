package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-service/internal/bucketing"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

type AccountRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewAccountRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *AccountRepository {
	return &AccountRepository{
		client:    client,
		bucketing: bm,
	}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.AccountID == "" {
		account.AccountID = uuid.New().String()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	account.AccountBucket = r.bucketing.AccountBucket(account.AccountID)

	query := r.client.Query(ctx, r.client.Statements.CreateAccount,
		account.AccountBucket, account.AccountID, account.AccountNumber, account.OriginalAccountNumber,
		account.DebtorName, account.Address, account.City, account.State, account.ZipCode,
		account.SSNLast4, optionalTime(account.DateOfBirth), account.Email,
		decimalText(account.CurrentBalance), account.OriginalCreditor, account.Status,
		account.CreatedAt, account.UpdatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.Int("account_bucket", account.AccountBucket))
	return nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	account := &models.Account{}
	var dob time.Time
	var balance string

	query := r.client.Query(ctx, r.client.Statements.GetAccount,
		r.bucketing.AccountBucket(accountID), accountID)

	err := r.client.ScanWithRetry(query,
		&account.AccountBucket, &account.AccountID, &account.AccountNumber, &account.OriginalAccountNumber,
		&account.DebtorName, &account.Address, &account.City, &account.State, &account.ZipCode,
		&account.SSNLast4, &dob, &account.Email, &balance, &account.OriginalCreditor,
		&account.Status, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("account %s: %w", accountID, repository.ErrNotFound)
		}
		util.Error("Failed to get account",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.DateOfBirth = timePtr(dob)
	if account.CurrentBalance, err = parseDecimalText(balance); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) FindAccountsByPhone(ctx context.Context, phone string) ([]models.AccountMatch, error) {
	iter := r.client.Query(ctx, r.client.Statements.GetAccountsByPhone, phone).Iter()

	matches := []models.AccountMatch{}
	var m models.AccountMatch
	for iter.Scan(&m.AccountID, &m.DebtorName) {
		matches = append(matches, m)
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to look up accounts by phone", zap.Error(err))
		return nil, fmt.Errorf("failed to find accounts by phone: %w", err)
	}
	return matches, nil
}

// AddPhoneNumber writes both lookup directions in one logged batch.
func (r *AccountRepository) AddPhoneNumber(ctx context.Context, phone *models.PhoneNumber) error {
	if phone.PhoneID == "" {
		phone.PhoneID = uuid.New().String()
	}
	if phone.Status == "" {
		phone.Status = models.PhoneStatusUnknown
	}
	now := time.Now().UTC()
	phone.CreatedAt = now
	phone.UpdatedAt = now

	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(r.client.Statements.CreatePhoneToAccount,
		phone.Number, phone.AccountID, phone.PhoneID, string(phone.Status), phone.DebtorName, now, now)
	batch.Query(r.client.Statements.CreatePhoneByAccount,
		phone.AccountID, phone.Number, phone.PhoneID, string(phone.Status), phone.DebtorName, now, now)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to add phone number",
			zap.String("account_id", phone.AccountID),
			zap.String("phone_id", phone.PhoneID),
			zap.Error(err))
		return fmt.Errorf("failed to add phone number: %w", err)
	}
	return nil
}

func (r *AccountRepository) ListPhoneNumbers(ctx context.Context, accountID string) ([]models.PhoneNumber, error) {
	iter := r.client.Query(ctx, r.client.Statements.GetPhonesByAccount, accountID).Iter()

	phones := []models.PhoneNumber{}
	var p models.PhoneNumber
	var status string
	for iter.Scan(&p.PhoneID, &p.AccountID, &p.Number, &status, &p.DebtorName, &p.CreatedAt, &p.UpdatedAt) {
		p.Status = models.PhoneStatus(status)
		phones = append(phones, p)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list phone numbers: %w", err)
	}
	return phones, nil
}

func (r *AccountRepository) UpdatePhoneStatus(ctx context.Context, accountID, phone string, status models.PhoneStatus) error {
	var phoneID string
	query := r.client.Query(ctx, r.client.Statements.GetPhoneLink, accountID, phone)
	if err := r.client.ScanWithRetry(query, &phoneID); err != nil {
		if err == gocql.ErrNotFound {
			return fmt.Errorf("phone link %s/%s: %w", accountID, util.MaskDigits(phone, 4), repository.ErrNotFound)
		}
		return fmt.Errorf("failed to look up phone link: %w", err)
	}

	now := time.Now().UTC()
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(r.client.Statements.UpdatePhoneToAccount, string(status), now, phone, accountID)
	batch.Query(r.client.Statements.UpdatePhoneByAccount, string(status), now, accountID, phone)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to update phone status",
			zap.String("account_id", accountID),
			zap.String("phone_id", phoneID),
			zap.Error(err))
		return fmt.Errorf("failed to update phone status: %w", err)
	}

	util.Info("Phone status updated",
		zap.String("account_id", accountID),
		zap.String("phone_id", phoneID),
		zap.String("status", string(status)))
	return nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
