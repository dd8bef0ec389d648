package service

import (
	"context"

	"go.uber.org/zap"

	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

// AccountService is the operator view of accounts and their phone numbers.
type AccountService struct {
	accounts repository.AccountRepository
	logger   *zap.Logger
}

func NewAccountService(accounts repository.AccountRepository, logger *zap.Logger) *AccountService {
	return &AccountService{accounts: accounts, logger: logger}
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, storeError("get account", err)
	}
	return account, nil
}

func (s *AccountService) ListPhones(ctx context.Context, accountID string) ([]models.PhoneNumber, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	phones, err := s.accounts.ListPhoneNumbers(ctx, accountID)
	if err != nil {
		return nil, storeError("list phone numbers", err)
	}
	return phones, nil
}

// UpdatePhoneStatus records the quality of a number after a call outcome.
func (s *AccountService) UpdatePhoneStatus(ctx context.Context, accountID, rawPhone string, status models.PhoneStatus) error {
	if !status.Valid() {
		return validationError("status must be good, bad or unknown")
	}
	phone, ok := util.NormalizePhone(rawPhone)
	if !ok {
		return validationError("phone must be a 10-digit number")
	}
	if err := s.accounts.UpdatePhoneStatus(ctx, accountID, phone, status); err != nil {
		return storeError("update phone status", err)
	}
	s.logger.Info("phone status updated",
		zap.String("account_id", accountID),
		util.Masked("phone", phone),
		zap.String("status", string(status)))
	return nil
}
