package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
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

	query := `
        INSERT INTO accounts (
            id, account_number, original_account_number, debtor_name, address, city, state,
            zip_code, ssn_last4, date_of_birth, email, current_balance, original_creditor,
            status, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14, $15, $16)
    `
	_, err := r.db.Exec(ctx, query,
		account.AccountID, account.AccountNumber, account.OriginalAccountNumber, account.DebtorName,
		account.Address, account.City, account.State, account.ZipCode, account.SSNLast4,
		account.DateOfBirth, account.Email, numericArg(account.CurrentBalance),
		account.OriginalCreditor, account.Status, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("account %s: %w", account.AccountID, repository.ErrConflict)
		}
		util.Error("Failed to create account", zap.String("account_id", account.AccountID), zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created", zap.String("account_id", account.AccountID))
	return nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	query := `
        SELECT id, account_number, original_account_number, debtor_name, address, city, state,
            zip_code, ssn_last4, date_of_birth, email, current_balance::text, original_creditor,
            status, created_at, updated_at
        FROM accounts WHERE id = $1
    `
	account := &models.Account{}
	var balance *string
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.AccountID, &account.AccountNumber, &account.OriginalAccountNumber, &account.DebtorName,
		&account.Address, &account.City, &account.State, &account.ZipCode, &account.SSNLast4,
		&account.DateOfBirth, &account.Email, &balance, &account.OriginalCreditor,
		&account.Status, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", accountID, repository.ErrNotFound)
		}
		util.Error("Failed to get account", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if account.CurrentBalance, err = parseNumeric(balance); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) FindAccountsByPhone(ctx context.Context, phone string) ([]models.AccountMatch, error) {
	query := `
        SELECT p.account_id, a.debtor_name
        FROM phone_numbers p
        JOIN accounts a ON a.id = p.account_id
        WHERE p.number = $1
        ORDER BY a.debtor_name, p.account_id
    `
	rows, err := r.db.Query(ctx, query, phone)
	if err != nil {
		util.Error("Failed to look up accounts by phone", zap.Error(err))
		return nil, fmt.Errorf("failed to find accounts by phone: %w", err)
	}
	defer rows.Close()

	matches := []models.AccountMatch{}
	for rows.Next() {
		var m models.AccountMatch
		if err := rows.Scan(&m.AccountID, &m.DebtorName); err != nil {
			return nil, fmt.Errorf("failed to scan account match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

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

	query := `
        INSERT INTO phone_numbers (id, account_id, number, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (account_id, number) DO NOTHING
    `
	if _, err := r.db.Exec(ctx, query,
		phone.PhoneID, phone.AccountID, phone.Number, string(phone.Status), now, now); err != nil {
		util.Error("Failed to add phone number",
			zap.String("account_id", phone.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to add phone number: %w", err)
	}
	return nil
}

func (r *AccountRepository) ListPhoneNumbers(ctx context.Context, accountID string) ([]models.PhoneNumber, error) {
	query := `
        SELECT p.id, p.account_id, p.number, p.status, a.debtor_name, p.created_at, p.updated_at
        FROM phone_numbers p
        JOIN accounts a ON a.id = p.account_id
        WHERE p.account_id = $1
        ORDER BY p.number
    `
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phone numbers: %w", err)
	}
	defer rows.Close()

	phones := []models.PhoneNumber{}
	for rows.Next() {
		var p models.PhoneNumber
		var status string
		if err := rows.Scan(&p.PhoneID, &p.AccountID, &p.Number, &status, &p.DebtorName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phone number: %w", err)
		}
		p.Status = models.PhoneStatus(status)
		phones = append(phones, p)
	}
	return phones, rows.Err()
}

func (r *AccountRepository) UpdatePhoneStatus(ctx context.Context, accountID, phone string, status models.PhoneStatus) error {
	query := `UPDATE phone_numbers SET status = $1, updated_at = now() WHERE account_id = $2 AND number = $3`
	tag, err := r.db.Exec(ctx, query, string(status), accountID, phone)
	if err != nil {
		util.Error("Failed to update phone status", zap.String("account_id", accountID), zap.Error(err))
		return fmt.Errorf("failed to update phone status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("phone link %s/%s: %w", accountID, util.MaskDigits(phone, 4), repository.ErrNotFound)
	}

	util.Info("Phone status updated",
		zap.String("account_id", accountID),
		zap.String("status", string(status)))
	return nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, r.db)
}
