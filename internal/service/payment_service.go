package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/events"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

const (
	instrumentPurpose = "payment_instrument"
	sourcePortal      = "portal"
	sourceOperator    = "operator"
	sourceDemo        = "demo"
)

// DetailsEncryptor seals instrument details into an opaque envelope.
type DetailsEncryptor interface {
	EncryptJSON(ctx context.Context, v interface{}, purpose string) (string, error)
	DecryptJSON(ctx context.Context, envelope string, v interface{}) error
}

type CardInput struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
	Name   string `json:"name"`
	Zip    string `json:"zip"`
}

type CheckInput struct {
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
	Name          string `json:"name"`
}

// PaymentRequest is the consumer payment form. PostDate is YYYY-MM-DD.
type PaymentRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Type           models.PaymentType `json:"type"`
	Card           *CardInput         `json:"card,omitempty"`
	Check          *CheckInput        `json:"check,omitempty"`
	PostDate       string             `json:"post_date,omitempty"`
	MonthlyPayment *decimal.Decimal   `json:"monthly_payment,omitempty"`
}

// OperatorPaymentRequest is a payment taken by an operator on behalf of an
// account, so the amount is free.
type OperatorPaymentRequest struct {
	PaymentRequest
	Amount    decimal.Decimal `json:"amount"`
	Recurring bool            `json:"recurring"`
}

// PaymentResult is a stored payment and whether this call created it.
type PaymentResult struct {
	Payment *models.Payment
	Created bool
}

type PaymentService struct {
	payments     repository.PaymentRepository
	accounts     repository.AccountRepository
	verification *VerificationService
	encryptor    DetailsEncryptor
	publisher    events.Publisher
	recorder     audit.Recorder
	tracker      analytics.Tracker
	logger       *zap.Logger
	now          func() time.Time
}

func NewPaymentService(
	payments repository.PaymentRepository,
	accounts repository.AccountRepository,
	verification *VerificationService,
	encryptor DetailsEncryptor,
	publisher events.Publisher,
	recorder audit.Recorder,
	tracker analytics.Tracker,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		payments:     payments,
		accounts:     accounts,
		verification: verification,
		encryptor:    encryptor,
		publisher:    publisher,
		recorder:     recorder,
		tracker:      tracker,
		logger:       logger,
		now:          time.Now,
	}
}

// validated is a payment form after normalization.
type validated struct {
	details        models.InstrumentDetails
	postDate       *time.Time
	monthlyPayment *decimal.Decimal
}

func validateRequest(req *PaymentRequest, amount decimal.Decimal, recurring bool, now time.Time) (*validated, error) {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	out := &validated{}

	switch {
	case req.Card != nil && req.Check != nil:
		add("provide either card or check details, not both")
	case req.Card == nil && req.Check == nil:
		add("card or check details are required")
	case req.Type == models.PaymentTypeCard && req.Card != nil:
		card, cardProblems := validateCard(req.Card, now)
		problems = append(problems, cardProblems...)
		out.details.Card = card
	case req.Type == models.PaymentTypeCheck && req.Check != nil:
		check, checkProblems := validateCheck(req.Check)
		problems = append(problems, checkProblems...)
		out.details.Check = check
	default:
		add("payment type %q does not match the details provided", req.Type)
	}

	if !amount.IsPositive() {
		add("amount must be greater than zero")
	}

	if req.PostDate != "" {
		postDate, err := time.Parse("2006-01-02", strings.TrimSpace(req.PostDate))
		if err != nil {
			add("post_date must be YYYY-MM-DD")
		} else {
			today, _ := repository.DayRange(now)
			if postDate.Before(today) {
				add("post_date cannot be in the past")
			}
			out.postDate = &postDate
		}
	}

	if recurring {
		switch {
		case req.MonthlyPayment == nil:
			add("monthly_payment is required for a payment plan")
		case !req.MonthlyPayment.IsPositive():
			add("monthly_payment must be greater than zero")
		case req.MonthlyPayment.GreaterThan(amount):
			add("monthly_payment cannot exceed the plan amount")
		default:
			m := req.MonthlyPayment.Round(2)
			out.monthlyPayment = &m
		}
	}

	if len(problems) > 0 {
		return nil, validationError("%s", strings.Join(problems, "; "))
	}
	return out, nil
}

func validateCard(in *CardInput, now time.Time) (*models.CardDetails, []string) {
	var problems []string
	card := &models.CardDetails{
		Number: util.DigitsOnly(in.Number),
		Expiry: util.FormatExpiry(in.Expiry),
		CVV:    util.DigitsOnly(in.CVV),
		Name:   util.NormalizeName(in.Name),
		Zip:    util.DigitsOnly(in.Zip),
	}
	if n := len(card.Number); n < 13 || n > 16 {
		problems = append(problems, "card number must be 13 to 16 digits")
	}
	if !validExpiry(card.Expiry, now) {
		problems = append(problems, "expiry must be a valid MM/YY date")
	}
	if n := len(card.CVV); n < 3 || n > 4 {
		problems = append(problems, "cvv must be 3 or 4 digits")
	}
	if card.Name == "" {
		problems = append(problems, "cardholder name is required")
	}
	if card.Zip != "" && len(card.Zip) != 5 {
		problems = append(problems, "zip must be 5 digits")
	}
	return card, problems
}

// validExpiry accepts MM/YY for a real month that has not already ended.
func validExpiry(expiry string, now time.Time) bool {
	if len(expiry) != 5 || expiry[2] != '/' {
		return false
	}
	month, err := strconv.Atoi(expiry[:2])
	if err != nil || month < 1 || month > 12 {
		return false
	}
	year, err := strconv.Atoi(expiry[3:])
	if err != nil {
		return false
	}
	now = now.UTC()
	endOfMonth := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return now.Before(endOfMonth)
}

func validateCheck(in *CheckInput) (*models.CheckDetails, []string) {
	var problems []string
	check := &models.CheckDetails{
		RoutingNumber: util.DigitsOnly(in.RoutingNumber),
		AccountNumber: util.FormatBankAccount(in.AccountNumber),
		AccountType:   strings.ToLower(strings.TrimSpace(in.AccountType)),
		Name:          util.NormalizeName(in.Name),
	}
	if len(check.RoutingNumber) != 9 {
		problems = append(problems, "routing number must be 9 digits")
	}
	if n := len(check.AccountNumber); n < 4 || n > 17 {
		problems = append(problems, "account number must be 4 to 17 digits")
	}
	if check.AccountType != "checking" && check.AccountType != "savings" {
		problems = append(problems, "account type must be checking or savings")
	}
	if check.Name == "" {
		problems = append(problems, "account holder name is required")
	}
	return check, problems
}

// Submit captures the consumer's payment for the offer selected on the
// session. A repeated idempotency key returns the first payment.
func (s *PaymentService) Submit(ctx context.Context, sessionID string, req PaymentRequest) (*PaymentResult, error) {
	session, err := s.verification.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepAccount || session.Account == nil {
		return nil, fail(ErrWrongStep, "Please verify your identity first.")
	}
	if session.SelectedOffer == nil {
		return nil, fail(ErrValidation, "Please choose a payment option first.")
	}

	offer := session.SelectedOffer
	v, err := validateRequest(&req, offer.Amount, offer.Recurring, s.now())
	if err != nil {
		return nil, err
	}

	payment := s.newPayment(session.Account, req, offer.Amount, v)
	if session.Demo {
		payment.Source = sourceDemo
		s.logger.Info("demo payment accepted", zap.String("session_id", session.SessionID))
		return &PaymentResult{Payment: payment, Created: true}, nil
	}
	payment.Source = sourcePortal

	result, err := s.store(ctx, payment, v)
	if err != nil {
		return nil, err
	}
	if !result.Created {
		return result, nil
	}
	s.tracker.Track(ctx, analytics.FunnelEvent{
		At:        s.now().UTC(),
		Stage:     analytics.StagePaymentSubmitted,
		Outcome:   string(payment.PaymentType),
		SessionID: session.SessionID,
		AccountID: payment.AccountID,
	})
	return result, nil
}

// Create records a payment taken by an operator.
func (s *PaymentService) Create(ctx context.Context, accountID string, req OperatorPaymentRequest) (*PaymentResult, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, storeError("get account", err)
	}
	amount := req.Amount.Round(2)
	v, err := validateRequest(&req.PaymentRequest, amount, req.Recurring, s.now())
	if err != nil {
		return nil, err
	}
	payment := s.newPayment(account, req.PaymentRequest, amount, v)
	payment.Source = sourceOperator
	return s.store(ctx, payment, v)
}

func (s *PaymentService) newPayment(account *models.Account, req PaymentRequest, amount decimal.Decimal, v *validated) *models.Payment {
	now := s.now().UTC()
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.New().String()
	}
	return &models.Payment{
		PaymentID:      uuid.New().String(),
		AccountID:      account.AccountID,
		DebtorName:     account.DebtorName,
		Amount:         amount,
		PaymentType:    req.Type,
		PaymentDate:    now,
		PostDate:       v.postDate,
		MonthlyPayment: v.monthlyPayment,
		Status:         models.PaymentStatusPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *PaymentService) store(ctx context.Context, payment *models.Payment, v *validated) (*PaymentResult, error) {
	envelope, err := s.encryptor.EncryptJSON(ctx, v.details, instrumentPurpose)
	if err != nil {
		s.logger.Error("failed to encrypt payment details", zap.String("account_id", payment.AccountID), zap.Error(err))
		return nil, fmt.Errorf("%w: encrypt details: %v", ErrPersistence, err)
	}
	payment.EncryptedDetails = envelope

	existing, created, err := s.payments.CreatePayment(ctx, payment)
	if err != nil {
		s.logger.Error("failed to store payment", zap.String("account_id", payment.AccountID), zap.Error(err))
		return nil, storeError("create payment", err)
	}
	if !created {
		if existing.AccountID != payment.AccountID {
			s.logger.Warn("idempotency key held by another account",
				zap.String("account_id", payment.AccountID),
				zap.String("payment_id", existing.PaymentID))
			return nil, fmt.Errorf("%w: key already used", ErrConflict)
		}
		s.logger.Info("duplicate payment submission",
			zap.String("payment_id", existing.PaymentID),
			zap.String("idempotency_key", existing.IdempotencyKey))
		return &PaymentResult{Payment: existing, Created: false}, nil
	}

	data := map[string]string{
		"amount":       payment.Amount.StringFixed(2),
		"payment_type": string(payment.PaymentType),
		"source":       payment.Source,
	}
	if payment.PostDate != nil {
		data["post_date"] = payment.PostDate.Format("2006-01-02")
	}
	s.publish(ctx, events.NewEvent(events.TypePaymentCreated, payment.AccountID, payment.PaymentID, data))

	s.logger.Info("payment captured",
		zap.String("payment_id", payment.PaymentID),
		zap.String("account_id", payment.AccountID),
		zap.String("payment_type", string(payment.PaymentType)),
		zap.String("source", payment.Source))
	return &PaymentResult{Payment: payment, Created: true}, nil
}

func (s *PaymentService) List(ctx context.Context, filter repository.PaymentFilter) ([]models.Payment, error) {
	switch filter.Status {
	case "", models.PaymentStatusPending, models.PaymentStatusProcessed, models.PaymentStatusDeclined:
	default:
		return nil, validationError("unknown status %q", filter.Status)
	}
	payments, err := s.payments.ListPayments(ctx, filter)
	if err != nil {
		return nil, storeError("list payments", err)
	}
	return payments, nil
}

func (s *PaymentService) Get(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := s.payments.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, storeError("get payment", err)
	}
	return payment, nil
}

// DueOn returns pending payments scheduled to post on day.
func (s *PaymentService) DueOn(ctx context.Context, day time.Time) ([]models.Payment, error) {
	payments, err := s.payments.ListDuePayments(ctx, day)
	if err != nil {
		return nil, storeError("list due payments", err)
	}
	return payments, nil
}

// DecryptDetails reveals the instrument of a payment to an operator. Every
// call is recorded as a security event.
func (s *PaymentService) DecryptDetails(ctx context.Context, paymentID, operator string) (*models.InstrumentDetails, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	var details models.InstrumentDetails
	if err := s.encryptor.DecryptJSON(ctx, payment.EncryptedDetails, &details); err != nil {
		s.logger.Error("failed to decrypt payment details", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("%w: decrypt details: %v", ErrPersistence, err)
	}

	event := &models.SecurityEvent{
		EventType: models.EventPaymentDetailsViewed,
		AccountID: payment.AccountID,
		PaymentID: payment.PaymentID,
		IPAddress: clientIP(ctx),
		Details:   "viewed by " + operator,
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record details access", zap.String("payment_id", paymentID), zap.Error(err))
	}
	return &details, nil
}

func (s *PaymentService) MarkProcessed(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.transition(ctx, paymentID, models.PaymentStatusProcessed, events.TypePaymentProcessed)
}

func (s *PaymentService) MarkDeclined(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.transition(ctx, paymentID, models.PaymentStatusDeclined, events.TypePaymentDeclined)
}

func (s *PaymentService) transition(ctx context.Context, paymentID string, next models.PaymentStatus, eventType string) (*models.Payment, error) {
	payment, err := s.payments.TransitionStatus(ctx, paymentID, next)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrInvalidTransition) {
			s.logger.Error("payment transition failed",
				zap.String("payment_id", paymentID),
				zap.String("status", string(next)),
				zap.Error(err))
		}
		return nil, storeError("transition payment", err)
	}

	s.publish(ctx, events.NewEvent(eventType, payment.AccountID, payment.PaymentID, map[string]string{
		"amount": payment.Amount.StringFixed(2),
	}))
	s.logger.Info("payment status changed",
		zap.String("payment_id", paymentID),
		zap.String("status", string(next)))
	return payment, nil
}

func (s *PaymentService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", event.Type), zap.Error(err))
	}
}
