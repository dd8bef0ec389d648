package service

import (
	"go.uber.org/zap"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/events"
	"portal-service/internal/hashing"
	"portal-service/internal/repository"
	"portal-service/internal/token"
)

// Dependencies are the collaborators shared by every service.
type Dependencies struct {
	Accounts      repository.AccountRepository
	Payments      repository.PaymentRepository
	Sessions      repository.SessionStore
	Attempts      repository.AttemptStore
	Hasher        *hashing.Hasher
	Tokens        *token.Manager
	Encryptor     DetailsEncryptor
	Publisher     events.Publisher
	Recorder      audit.Recorder
	Tracker       analytics.Tracker
	Caller        Caller
	Verification  VerificationSettings
	PathwayID     string
	ImportWorkers int
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps   Dependencies
	logger *zap.Logger

	verificationService *VerificationService
	resolutionService   *ResolutionService
	paymentService      *PaymentService
	accountService      *AccountService
	importService       *ImportService
	callingService      *CallingService
}

func NewServiceFactory(deps Dependencies, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{deps: deps, logger: logger}
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.deps.Accounts,
			f.deps.Sessions,
			f.deps.Attempts,
			f.deps.Hasher,
			f.deps.Tokens,
			f.deps.Publisher,
			f.deps.Recorder,
			f.deps.Tracker,
			f.deps.Verification,
			f.logger.Named("verification"),
		)
	}
	return f.verificationService
}

func (f *ServiceFactory) ResolutionService() *ResolutionService {
	if f.resolutionService == nil {
		f.resolutionService = NewResolutionService(f.VerificationService(), f.deps.Tracker, f.logger.Named("resolution"))
	}
	return f.resolutionService
}

func (f *ServiceFactory) PaymentService() *PaymentService {
	if f.paymentService == nil {
		f.paymentService = NewPaymentService(
			f.deps.Payments,
			f.deps.Accounts,
			f.VerificationService(),
			f.deps.Encryptor,
			f.deps.Publisher,
			f.deps.Recorder,
			f.deps.Tracker,
			f.logger.Named("payments"),
		)
	}
	return f.paymentService
}

func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(f.deps.Accounts, f.logger.Named("accounts"))
	}
	return f.accountService
}

func (f *ServiceFactory) ImportService() *ImportService {
	if f.importService == nil {
		f.importService = NewImportService(f.deps.Accounts, f.deps.Publisher, f.deps.ImportWorkers, f.logger.Named("import"))
	}
	return f.importService
}

func (f *ServiceFactory) CallingService() *CallingService {
	if f.callingService == nil {
		f.callingService = NewCallingService(f.deps.Caller, f.deps.PathwayID, f.logger.Named("calling"))
	}
	return f.callingService
}

// Recorder exposes the audit trail to the operator surface.
func (f *ServiceFactory) Recorder() audit.Recorder { return f.deps.Recorder }

// Tracker exposes the funnel report to the operator surface.
func (f *ServiceFactory) Tracker() analytics.Tracker { return f.deps.Tracker }

func (f *ServiceFactory) Hasher() *hashing.Hasher { return f.deps.Hasher }

func (f *ServiceFactory) Tokens() *token.Manager { return f.deps.Tokens }
