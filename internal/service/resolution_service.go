package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portal-service/internal/analytics"
	"portal-service/internal/models"
)

var settlementRate = decimal.RequireFromString("0.60")

// ComputeOffers returns the settlement and payment-plan offers for account.
// Amounts are rounded to cents.
func ComputeOffers(account *models.Account) ([]models.Offer, error) {
	if account == nil || account.CurrentBalance == nil {
		return nil, ErrBalanceUnavailable
	}
	balance := *account.CurrentBalance
	if balance.IsNegative() {
		return nil, validationError("balance is negative")
	}

	return []models.Offer{
		{
			Type:      models.OfferSettlement,
			Title:     "One-Time Settlement",
			Amount:    balance.Mul(settlementRate).Round(2),
			Savings:   "40%",
			Recurring: false,
		},
		{
			Type:      models.OfferPaymentPlan,
			Title:     "Partial Payment Plan",
			Amount:    balance.Round(2),
			Savings:   "10% - 40%",
			Recurring: true,
		},
	}, nil
}

// ResolutionService exposes the offers of a verified session.
type ResolutionService struct {
	verification *VerificationService
	tracker      analytics.Tracker
	logger       *zap.Logger
}

func NewResolutionService(verification *VerificationService, tracker analytics.Tracker, logger *zap.Logger) *ResolutionService {
	return &ResolutionService{verification: verification, tracker: tracker, logger: logger}
}

func (s *ResolutionService) verifiedSession(ctx context.Context, sessionID string) (*models.VerificationSession, error) {
	session, err := s.verification.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepAccount || session.Account == nil {
		return nil, fail(ErrWrongStep, "Please verify your identity first.")
	}
	return session, nil
}

func (s *ResolutionService) Offers(ctx context.Context, sessionID string) ([]models.Offer, error) {
	session, err := s.verifiedSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	offers, err := ComputeOffers(session.Account)
	if err != nil {
		s.logger.Warn("offers unavailable",
			zap.String("account_id", session.Account.AccountID),
			zap.Error(err))
		return nil, err
	}
	return offers, nil
}

// SelectOffer records the chosen offer on the session. Payment capture
// takes its amount from here.
func (s *ResolutionService) SelectOffer(ctx context.Context, sessionID string, offerType models.OfferType) (*models.VerificationSession, error) {
	session, err := s.verifiedSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	offers, err := ComputeOffers(session.Account)
	if err != nil {
		return nil, err
	}

	for i := range offers {
		if offers[i].Type != offerType {
			continue
		}
		session.SelectedOffer = &offers[i]
		if err := s.verification.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		s.tracker.Track(ctx, analytics.FunnelEvent{
			At:        s.verification.now().UTC(),
			Stage:     analytics.StageOfferSelected,
			Outcome:   string(offerType),
			SessionID: session.SessionID,
			AccountID: session.SelectedAccountID,
			Demo:      session.Demo,
		})
		return session, nil
	}
	return nil, validationError("unknown offer type %q", offerType)
}
