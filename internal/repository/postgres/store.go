package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"portal-service/internal/repository"
	"portal-service/internal/util"
)

//go:embed schema.sql
var schemaSQL string

// Store serves accounts and payments from one pgx pool.
type Store struct {
	db       *pgxpool.Pool
	accounts *AccountRepository
	payments *PaymentRepository
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:       db,
		accounts: NewAccountRepository(db),
		payments: NewPaymentRepository(db),
	}
}

// ApplySchema creates the portal tables if they do not exist yet.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	util.Info("Postgres schema applied")
	return nil
}

func (s *Store) Accounts() repository.AccountRepository { return s.accounts }
func (s *Store) Payments() repository.PaymentRepository { return s.payments }
func (s *Store) Close()                                 { s.db.Close() }

func (s *Store) HealthCheck(ctx context.Context) error { return healthCheck(ctx, s.db) }

func healthCheck(ctx context.Context, db *pgxpool.Pool) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Numeric columns travel as text so decimal values keep their precision.

func numericArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseNumeric(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", *s, err)
	}
	return &d, nil
}
