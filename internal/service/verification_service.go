package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/events"
	"portal-service/internal/hashing"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/token"
	"portal-service/internal/util"
)

const demoAccountID = "demo"

// VerificationSettings are the tunables of the verification flow.
type VerificationSettings struct {
	MaxAttempts   int
	LockoutWindow time.Duration
	SessionTTL    time.Duration
	DemoEnabled   bool
}

// VerificationService runs the phone -> verify -> account flow. Session
// state lives in the session store between requests.
type VerificationService struct {
	accounts  repository.AccountRepository
	sessions  repository.SessionStore
	attempts  repository.AttemptStore
	hasher    *hashing.Hasher
	tokens    *token.Manager
	publisher events.Publisher
	recorder  audit.Recorder
	tracker   analytics.Tracker
	settings  VerificationSettings
	logger    *zap.Logger
	now       func() time.Time
}

type StartRequest struct {
	Phone string `json:"phone"`
	Demo  bool   `json:"demo"`
}

type StartResult struct {
	Session   *models.VerificationSession `json:"session"`
	Token     string                      `json:"token"`
	ExpiresAt time.Time                   `json:"expires_at"`
}

func NewVerificationService(
	accounts repository.AccountRepository,
	sessions repository.SessionStore,
	attempts repository.AttemptStore,
	hasher *hashing.Hasher,
	tokens *token.Manager,
	publisher events.Publisher,
	recorder audit.Recorder,
	tracker analytics.Tracker,
	settings VerificationSettings,
	logger *zap.Logger,
) *VerificationService {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 5
	}
	if settings.LockoutWindow <= 0 {
		settings.LockoutWindow = 15 * time.Minute
	}
	if settings.SessionTTL <= 0 {
		settings.SessionTTL = 30 * time.Minute
	}
	return &VerificationService{
		accounts:  accounts,
		sessions:  sessions,
		attempts:  attempts,
		hasher:    hasher,
		tokens:    tokens,
		publisher: publisher,
		recorder:  recorder,
		tracker:   tracker,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// StartSession opens a new flow. A phone from a link parameter starts the
// session at the verify step with the lookup already run.
func (s *VerificationService) StartSession(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.Demo && !s.settings.DemoEnabled {
		return nil, fail(ErrDemoDisabled, "Demo mode is not available.")
	}

	now := s.now().UTC()
	session := &models.VerificationSession{
		SessionID: uuid.New().String(),
		Step:      models.StepPhone,
		Demo:      req.Demo,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Phone != "" {
		session.Step = models.StepVerify
		digits := util.DigitsOnly(req.Phone)
		switch {
		case session.Demo:
			s.applyDemoPhone(session, digits)
		case len(digits) != 10:
			session.Error = msgInvalidPhone
		default:
			matches, err := s.accounts.FindAccountsByPhone(ctx, digits)
			switch {
			case err != nil:
				s.logger.Error("phone lookup failed", zap.Error(err))
				session.Error = msgTemporaryFailure
			case len(matches) == 0:
				session.Error = msgPhoneNotFound
			default:
				applyCandidates(session, digits, matches)
			}
		}
	}

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	signed, expiresAt, err := s.tokens.Issue(session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info("verification session started",
		zap.String("session_id", session.SessionID),
		zap.String("step", string(session.Step)),
		zap.Bool("demo", session.Demo))
	return &StartResult{Session: session, Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *VerificationService) GetSession(ctx context.Context, sessionID string) (*models.VerificationSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fail(ErrSessionNotFound, "Your session has expired. Please start again.")
		}
		return nil, fmt.Errorf("%w: load session: %v", ErrPersistence, err)
	}
	return session, nil
}

func (s *VerificationService) EndSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrPersistence, err)
	}
	return nil
}

// SaveSession persists session and refreshes its TTL.
func (s *VerificationService) SaveSession(ctx context.Context, session *models.VerificationSession) error {
	return s.save(ctx, session)
}

func (s *VerificationService) save(ctx context.Context, session *models.VerificationSession) error {
	session.UpdatedAt = s.now().UTC()
	if err := s.sessions.SaveSession(ctx, session, s.settings.SessionTTL); err != nil {
		return fmt.Errorf("%w: save session: %v", ErrPersistence, err)
	}
	return nil
}

// reject records message on the session without moving it and returns
// the matching FlowError.
func (s *VerificationService) reject(ctx context.Context, session *models.VerificationSession, kind error, message string) (*models.VerificationSession, error) {
	session.Error = message
	if err := s.save(ctx, session); err != nil {
		s.logger.Warn("failed to persist session error", zap.String("session_id", session.SessionID), zap.Error(err))
	}
	s.track(ctx, session, analytics.StageVerificationError, kind.Error())
	return session, fail(kind, message)
}

func applyCandidates(session *models.VerificationSession, phone string, matches []models.AccountMatch) {
	session.Phone = phone
	session.Candidates = matches
	session.SelectedAccountID = ""
	session.DebtorName = ""
	if len(matches) == 1 {
		session.SelectedAccountID = matches[0].AccountID
		session.DebtorName = matches[0].DebtorName
	}
	session.Error = ""
}

func (s *VerificationService) applyDemoPhone(session *models.VerificationSession, phone string) {
	account := demoAccount(s.now())
	applyCandidates(session, phone, []models.AccountMatch{{AccountID: account.AccountID, DebtorName: account.DebtorName}})
}

func demoAccount(now time.Time) *models.Account {
	balance := decimal.RequireFromString("1630.00")
	return &models.Account{
		AccountID:        demoAccountID,
		AccountNumber:    "DEMO-0001",
		DebtorName:       "John Smith",
		OriginalCreditor: "Demo Creditor",
		CurrentBalance:   &balance,
		Status:           "demo",
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
}

// SubmitPhone looks up the accounts linked to raw. Resubmitting from the
// verify step reruns the lookup; the account step is final. Demo sessions
// accept any input.
func (s *VerificationService) SubmitPhone(ctx context.Context, sessionID, raw string) (*models.VerificationSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step == models.StepAccount {
		return session, fail(ErrWrongStep, "This session is already verified.")
	}

	digits := util.DigitsOnly(raw)
	if session.Demo {
		s.applyDemoPhone(session, digits)
	} else {
		if len(digits) != 10 {
			return s.reject(ctx, session, ErrValidation, msgInvalidPhone)
		}
		matches, err := s.accounts.FindAccountsByPhone(ctx, digits)
		if err != nil {
			s.logger.Error("phone lookup failed",
				zap.String("phone_hash", s.hasher.PhoneFingerprint(digits)),
				zap.Error(err))
			return s.reject(ctx, session, ErrPersistence, msgTemporaryFailure)
		}
		if len(matches) == 0 {
			s.logger.Info("phone not found", zap.String("phone_hash", s.hasher.PhoneFingerprint(digits)))
			return s.reject(ctx, session, ErrNotFound, msgPhoneNotFound)
		}
		applyCandidates(session, digits, matches)
	}

	session.Step = models.StepVerify
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	s.track(ctx, session, analytics.StagePhoneSubmitted, fmt.Sprintf("candidates_%d", len(session.Candidates)))
	return session, nil
}

// SelectAccount picks one of several accounts sharing the phone number.
func (s *VerificationService) SelectAccount(ctx context.Context, sessionID, accountID string) (*models.VerificationSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepVerify {
		return session, fail(ErrWrongStep, "Please enter your phone number first.")
	}
	if len(session.Candidates) <= 1 {
		return s.reject(ctx, session, ErrValidation, "There is only one account for this phone number.")
	}

	for _, c := range session.Candidates {
		if c.AccountID == accountID {
			session.SelectedAccountID = c.AccountID
			session.DebtorName = c.DebtorName
			session.Error = ""
			if err := s.save(ctx, session); err != nil {
				return nil, err
			}
			s.track(ctx, session, analytics.StageAccountSelected, "ok")
			return session, nil
		}
	}
	return s.reject(ctx, session, ErrValidation, "Please select one of the listed accounts.")
}

// SubmitVerification checks the last four SSN digits against the selected
// account. Failures count toward a per-phone lockout.
func (s *VerificationService) SubmitVerification(ctx context.Context, sessionID, ssnTail string) (*models.VerificationSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepVerify {
		return session, fail(ErrWrongStep, "Please enter your phone number first.")
	}

	if session.Demo {
		account := demoAccount(s.now())
		session.Account = account
		session.SelectedAccountID = account.AccountID
		session.DebtorName = account.DebtorName
		return s.advance(ctx, session)
	}

	var phoneKey string
	if session.Phone != "" {
		phoneKey = s.hasher.PhoneFingerprint(session.Phone)
		locked, _, err := s.attempts.IsLocked(ctx, phoneKey)
		if err != nil {
			s.logger.Error("lockout check failed", zap.String("phone_hash", phoneKey), zap.Error(err))
			return s.reject(ctx, session, ErrPersistence, msgTemporaryFailure)
		}
		if locked {
			return s.reject(ctx, session, ErrLocked, msgLocked)
		}
	}

	switch {
	case len(session.Candidates) == 0:
		return s.reject(ctx, session, ErrNotFound, msgPhoneNotFound)
	case session.SelectedAccountID == "" && len(session.Candidates) == 1:
		session.SelectedAccountID = session.Candidates[0].AccountID
		session.DebtorName = session.Candidates[0].DebtorName
	case session.SelectedAccountID == "":
		return s.reject(ctx, session, ErrSelectionRequired, msgSelectAccount)
	}

	account, err := s.accounts.GetAccountByID(ctx, session.SelectedAccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.reject(ctx, session, ErrNotFound, msgAccountNotFound)
		}
		s.logger.Error("account fetch failed", zap.String("account_id", session.SelectedAccountID), zap.Error(err))
		return s.reject(ctx, session, ErrPersistence, msgTemporaryFailure)
	}

	if !ssnTailMatches(account.SSNLast4, ssnTail) {
		return s.recordFailure(ctx, session, phoneKey)
	}

	if phoneKey != "" {
		if err := s.attempts.Reset(ctx, phoneKey); err != nil {
			s.logger.Warn("failed to reset attempt counter", zap.String("phone_hash", phoneKey), zap.Error(err))
		}
	}
	session.Account = account
	session.DebtorName = account.DebtorName

	s.audit(ctx, &models.SecurityEvent{
		EventType: models.EventVerificationSucceeded,
		PhoneHash: phoneKey,
		AccountID: account.AccountID,
		SessionID: session.SessionID,
	})
	s.publish(ctx, events.NewEvent(events.TypeVerificationSucceeded, account.AccountID, "", map[string]string{
		"session_id": session.SessionID,
	}))
	return s.advance(ctx, session)
}

// ssnTailMatches compares the stored and entered last four digits. A
// missing stored value never matches.
func ssnTailMatches(stored, input string) bool {
	stored = util.LastDigits(stored, 4)
	input = util.DigitsOnly(input)
	if stored == "" || len(input) != 4 {
		return false
	}
	return hashing.Equal(stored, input)
}

func (s *VerificationService) advance(ctx context.Context, session *models.VerificationSession) (*models.VerificationSession, error) {
	session.Step = models.StepAccount
	session.Error = ""
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	s.track(ctx, session, analytics.StageVerified, "ok")
	s.logger.Info("verification succeeded",
		zap.String("session_id", session.SessionID),
		zap.String("account_id", session.SelectedAccountID),
		zap.Bool("demo", session.Demo))
	return session, nil
}

func (s *VerificationService) recordFailure(ctx context.Context, session *models.VerificationSession, phoneKey string) (*models.VerificationSession, error) {
	count, err := s.attempts.RecordFailure(ctx, phoneKey, s.settings.LockoutWindow)
	if err != nil {
		s.logger.Error("failed to record verification attempt", zap.String("phone_hash", phoneKey), zap.Error(err))
	}

	s.audit(ctx, &models.SecurityEvent{
		EventType: models.EventVerificationFailed,
		PhoneHash: phoneKey,
		AccountID: session.SelectedAccountID,
		SessionID: session.SessionID,
		RiskScore: riskScore(count, s.settings.MaxAttempts),
		Details:   fmt.Sprintf("attempt %d of %d", count, s.settings.MaxAttempts),
	})

	if count >= s.settings.MaxAttempts {
		if err := s.attempts.Lock(ctx, phoneKey, s.settings.LockoutWindow); err != nil {
			s.logger.Error("failed to lock verification", zap.String("phone_hash", phoneKey), zap.Error(err))
		}
		s.audit(ctx, &models.SecurityEvent{
			EventType: models.EventVerificationLocked,
			PhoneHash: phoneKey,
			AccountID: session.SelectedAccountID,
			SessionID: session.SessionID,
			RiskScore: 100,
			Details:   fmt.Sprintf("locked for %s", s.settings.LockoutWindow),
		})
		s.publish(ctx, events.NewEvent(events.TypeVerificationLocked, session.SelectedAccountID, "", map[string]string{
			"phone_hash": phoneKey,
		}))
		s.logger.Warn("verification locked",
			zap.String("phone_hash", phoneKey),
			zap.Int("attempts", count))
	}

	return s.reject(ctx, session, ErrAuthentication, msgInvalidSSN)
}

func riskScore(count, max int) int {
	if max <= 0 || count <= 0 {
		return 0
	}
	score := count * 100 / max
	if score > 100 {
		score = 100
	}
	return score
}

func (s *VerificationService) audit(ctx context.Context, event *models.SecurityEvent) {
	event.IPAddress = clientIP(ctx)
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record security event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

func (s *VerificationService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

func (s *VerificationService) track(ctx context.Context, session *models.VerificationSession, stage, outcome string) {
	s.tracker.Track(ctx, analytics.FunnelEvent{
		At:        s.now().UTC(),
		Stage:     stage,
		Outcome:   outcome,
		SessionID: session.SessionID,
		AccountID: session.SelectedAccountID,
		Demo:      session.Demo,
	})
}
