package scylla

import (
	"context"

	"portal-service/internal/bucketing"
	"portal-service/internal/repository"
)

// Store serves accounts and payments from one Scylla session.
type Store struct {
	client   *ScyllaClient
	accounts *AccountRepository
	payments *PaymentRepository
}

func NewStore(client *ScyllaClient, bm *bucketing.BucketingManager) *Store {
	return &Store{
		client:   client,
		accounts: NewAccountRepository(client, bm),
		payments: NewPaymentRepository(client, bm),
	}
}

func (s *Store) Accounts() repository.AccountRepository { return s.accounts }
func (s *Store) Payments() repository.PaymentRepository { return s.payments }
func (s *Store) Close()                                 { s.client.Close() }

func (s *Store) ApplySchema(ctx context.Context) error { return s.client.ApplySchema(ctx) }
func (s *Store) HealthCheck(ctx context.Context) error { return s.client.HealthCheck(ctx) }
