package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

// staleClaimAfter is how long a claim may point at a missing payment
// before another request with the same key may take it over.
const staleClaimAfter = time.Minute

const releaseTimeout = 5 * time.Second

type claimHolder struct {
	PaymentID string
	ClaimedAt time.Time
}

// keyClaims guards (account, idempotency key) pairs.
type keyClaims interface {
	Claim(ctx context.Context, accountID, key, paymentID string, at time.Time) (bool, claimHolder, error)
	Release(ctx context.Context, accountID, key, paymentID string) error
}

type cqlClaims struct {
	client *ScyllaClient
}

func (c cqlClaims) Claim(ctx context.Context, accountID, key, paymentID string, at time.Time) (bool, claimHolder, error) {
	existing := map[string]interface{}{}
	applied, err := c.client.Query(ctx, c.client.Statements.ClaimIdempotencyKey,
		accountID, key, paymentID, at).MapScanCAS(existing)
	if err != nil {
		return false, claimHolder{}, err
	}
	var holder claimHolder
	holder.PaymentID, _ = existing["payment_id"].(string)
	holder.ClaimedAt, _ = existing["created_at"].(time.Time)
	return applied, holder, nil
}

// Release drops the claim only while it still points at paymentID.
func (c cqlClaims) Release(ctx context.Context, accountID, key, paymentID string) error {
	_, err := c.client.Query(ctx, c.client.Statements.ReleaseIdempotencyKey,
		accountID, key, paymentID).MapScanCAS(map[string]interface{}{})
	return err
}

// createWithClaim claims the payment's key, then writes the payment. A
// failed write releases the claim so a retry with the same key can succeed.
func createWithClaim(
	ctx context.Context,
	claims keyClaims,
	p *models.Payment,
	now time.Time,
	write func(context.Context, *models.Payment) error,
	lookup func(context.Context, string) (*models.Payment, error),
) (*models.Payment, bool, error) {
	applied, holder, err := claims.Claim(ctx, p.AccountID, p.IdempotencyKey, p.PaymentID, now)
	if err != nil {
		util.Error("Failed to claim idempotency key",
			zap.String("payment_id", p.PaymentID),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	if !applied {
		prior, err := lookup(ctx, holder.PaymentID)
		switch {
		case err == nil:
			util.Info("Duplicate payment submission",
				zap.String("payment_id", prior.PaymentID),
				zap.String("account_id", prior.AccountID))
			return prior, false, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, false, err
		case now.Sub(holder.ClaimedAt) < staleClaimAfter:
			// The holder's write may still be in flight.
			return nil, false, fmt.Errorf("idempotency key in use: %w", repository.ErrConflict)
		}

		util.Warn("Taking over stale idempotency claim",
			zap.String("account_id", p.AccountID),
			zap.String("stale_payment_id", holder.PaymentID))
		if err := claims.Release(ctx, p.AccountID, p.IdempotencyKey, holder.PaymentID); err != nil {
			return nil, false, fmt.Errorf("failed to release stale claim: %w", err)
		}
		applied, _, err = claims.Claim(ctx, p.AccountID, p.IdempotencyKey, p.PaymentID, now)
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if !applied {
			return nil, false, fmt.Errorf("idempotency key in use: %w", repository.ErrConflict)
		}
	}

	if err := write(ctx, p); err != nil {
		util.Error("Failed to create payment",
			zap.String("payment_id", p.PaymentID),
			zap.String("account_id", p.AccountID),
			zap.Error(err))
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := claims.Release(releaseCtx, p.AccountID, p.IdempotencyKey, p.PaymentID); relErr != nil {
			util.Warn("Failed to release idempotency claim",
				zap.String("payment_id", p.PaymentID),
				zap.Error(relErr))
		}
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}
	return p, true, nil
}
