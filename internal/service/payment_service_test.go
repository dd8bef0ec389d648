package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/events"
	"portal-service/internal/models"
	"portal-service/internal/repository"
)

func validCard() *CardInput {
	return &CardInput{Number: "4111 1111 1111 1111", Expiry: "12/29", CVV: "123", Name: "Jane Doe", Zip: "94107"}
}

func validCheck() *CheckInput {
	return &CheckInput{RoutingNumber: "021000021", AccountNumber: "123456789", AccountType: "Checking", Name: "Jane Doe"}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestValidateRequest(t *testing.T) {
	amount := decimal.RequireFromString("600")
	tests := []struct {
		name      string
		req       PaymentRequest
		amount    decimal.Decimal
		recurring bool
		wantErr   string
	}{
		{name: "card", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()}, amount: amount},
		{name: "check", req: PaymentRequest{Type: models.PaymentTypeCheck, Check: validCheck()}, amount: amount},
		{name: "both instruments", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard(), Check: validCheck()}, amount: amount, wantErr: "not both"},
		{name: "no instrument", req: PaymentRequest{Type: models.PaymentTypeCard}, amount: amount, wantErr: "required"},
		{name: "type mismatch", req: PaymentRequest{Type: models.PaymentTypeCheck, Card: validCard()}, amount: amount, wantErr: "does not match"},
		{name: "short card", req: PaymentRequest{Type: models.PaymentTypeCard, Card: &CardInput{Number: "4111", Expiry: "12/29", CVV: "123", Name: "J"}}, amount: amount, wantErr: "13 to 16"},
		{name: "bad month", req: PaymentRequest{Type: models.PaymentTypeCard, Card: &CardInput{Number: "4111111111111111", Expiry: "13/29", CVV: "123", Name: "J"}}, amount: amount, wantErr: "MM/YY"},
		{name: "expired", req: PaymentRequest{Type: models.PaymentTypeCard, Card: &CardInput{Number: "4111111111111111", Expiry: "02/26", CVV: "123", Name: "J"}}, amount: amount, wantErr: "MM/YY"},
		{name: "short zip", req: PaymentRequest{Type: models.PaymentTypeCard, Card: &CardInput{Number: "4111111111111111", Expiry: "03/26", CVV: "1234", Name: "J", Zip: "941"}}, amount: amount, wantErr: "zip"},
		{name: "bad routing", req: PaymentRequest{Type: models.PaymentTypeCheck, Check: &CheckInput{RoutingNumber: "1234", AccountNumber: "123456", AccountType: "savings", Name: "J"}}, amount: amount, wantErr: "routing"},
		{name: "bad account type", req: PaymentRequest{Type: models.PaymentTypeCheck, Check: &CheckInput{RoutingNumber: "021000021", AccountNumber: "123456", AccountType: "brokerage", Name: "J"}}, amount: amount, wantErr: "checking or savings"},
		{name: "zero amount", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()}, amount: decimal.Zero, wantErr: "greater than zero"},
		{name: "past post date", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard(), PostDate: "2026-03-09"}, amount: amount, wantErr: "past"},
		{name: "today post date", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard(), PostDate: "2026-03-10"}, amount: amount},
		{name: "plan without monthly", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()}, amount: amount, recurring: true, wantErr: "monthly_payment is required"},
		{name: "plan monthly above amount", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard(), MonthlyPayment: dec("700")}, amount: amount, recurring: true, wantErr: "exceed"},
		{name: "plan", req: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard(), MonthlyPayment: dec("100")}, amount: amount, recurring: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := validateRequest(&tt.req, tt.amount, tt.recurring, testNow)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if (v.details.Card == nil) == (v.details.Check == nil) {
					t.Fatalf("expected exactly one instrument branch, got %+v", v.details)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequest_Normalizes(t *testing.T) {
	v, err := validateRequest(&PaymentRequest{Type: models.PaymentTypeCheck, Check: validCheck()}, decimal.NewFromInt(1), false, testNow)
	if err != nil {
		t.Fatalf("validateRequest: %v", err)
	}
	if v.details.Check.AccountType != "checking" {
		t.Fatalf("account type not normalized: %q", v.details.Check.AccountType)
	}

	v, err = validateRequest(&PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()}, decimal.NewFromInt(1), false, testNow)
	if err != nil {
		t.Fatalf("validateRequest: %v", err)
	}
	if v.details.Card.Number != "4111111111111111" {
		t.Fatalf("card number not normalized: %q", v.details.Card.Number)
	}
}

func TestSubmit_FromSelectedOffer(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000", "5551234567")
	ctx := context.Background()
	id := env.verified(t, "5551234567", "6789")

	req := PaymentRequest{IdempotencyKey: "key-1", Type: models.PaymentTypeCard, Card: validCard()}
	if _, err := env.paymentSvc.Submit(ctx, id, req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without a selected offer, got %v", err)
	}

	if _, err := env.resolution.SelectOffer(ctx, id, models.OfferSettlement); err != nil {
		t.Fatalf("SelectOffer: %v", err)
	}
	res, err := env.paymentSvc.Submit(ctx, id, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Created {
		t.Fatalf("expected a new payment")
	}
	p := res.Payment
	if p.Status != models.PaymentStatusPending || p.Amount.StringFixed(2) != "600.00" || p.AccountID != "a1" || p.DebtorName != "Jane Doe" {
		t.Fatalf("unexpected payment %+v", p)
	}
	if p.EncryptedDetails == "" || strings.Contains(p.EncryptedDetails, "4111111111111111") {
		t.Fatalf("instrument details not encrypted")
	}

	var details models.InstrumentDetails
	if err := env.encryptor.DecryptJSON(ctx, p.EncryptedDetails, &details); err != nil {
		t.Fatalf("DecryptJSON: %v", err)
	}
	if details.Card == nil || details.Check != nil || details.Card.Number != "4111111111111111" {
		t.Fatalf("unexpected decrypted details %+v", details)
	}

	again, err := env.paymentSvc.Submit(ctx, id, req)
	if err != nil {
		t.Fatalf("repeat Submit: %v", err)
	}
	if again.Created || again.Payment.PaymentID != p.PaymentID {
		t.Fatalf("repeat submission created a second payment")
	}
	if n := env.publisher.count(events.TypePaymentCreated); n != 1 {
		t.Fatalf("expected one payment.created event, got %d", n)
	}
}

func TestSubmit_GeneratesIdempotencyKey(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000", "5551234567")
	ctx := context.Background()
	id := env.verified(t, "5551234567", "6789")
	if _, err := env.resolution.SelectOffer(ctx, id, models.OfferPaymentPlan); err != nil {
		t.Fatalf("SelectOffer: %v", err)
	}

	req := PaymentRequest{Type: models.PaymentTypeCheck, Check: validCheck(), MonthlyPayment: dec("250")}
	first, err := env.paymentSvc.Submit(ctx, id, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := env.paymentSvc.Submit(ctx, id, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.Payment.IdempotencyKey == "" || first.Payment.IdempotencyKey == second.Payment.IdempotencyKey {
		t.Fatalf("expected distinct generated keys")
	}
	if first.Payment.MonthlyPayment == nil || first.Payment.MonthlyPayment.StringFixed(2) != "250.00" {
		t.Fatalf("monthly payment not recorded: %+v", first.Payment.MonthlyPayment)
	}
}

func TestSubmit_DemoDoesNotPersist(t *testing.T) {
	settings := defaultSettings()
	settings.DemoEnabled = true
	env := newTestEnv(t, settings)
	ctx := context.Background()

	res, err := env.verification.StartSession(ctx, StartRequest{Demo: true})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	id := res.Session.SessionID
	_, _ = env.verification.SubmitPhone(ctx, id, "5551234567")
	_, _ = env.verification.SubmitVerification(ctx, id, "0000")
	if _, err := env.resolution.SelectOffer(ctx, id, models.OfferSettlement); err != nil {
		t.Fatalf("SelectOffer: %v", err)
	}

	pay, err := env.paymentSvc.Submit(ctx, id, PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if pay.Payment.Amount.StringFixed(2) != "978.00" || pay.Payment.Source != "demo" {
		t.Fatalf("unexpected demo payment %+v", pay.Payment)
	}
	if len(env.payments.byID) != 0 || len(env.publisher.types()) != 0 {
		t.Fatalf("demo payment reached the store or broker")
	}
}

func TestPaymentTransitions(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000")
	ctx := context.Background()

	res, err := env.paymentSvc.Create(ctx, "a1", OperatorPaymentRequest{
		PaymentRequest: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()},
		Amount:         decimal.RequireFromString("125.50"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := res.Payment.PaymentID
	if res.Payment.Source != "operator" {
		t.Fatalf("expected operator source, got %q", res.Payment.Source)
	}

	processed, err := env.paymentSvc.MarkProcessed(ctx, id)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if processed.Status != models.PaymentStatusProcessed {
		t.Fatalf("expected processed, got %s", processed.Status)
	}
	if _, err := env.paymentSvc.MarkDeclined(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.paymentSvc.MarkProcessed(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if env.publisher.count(events.TypePaymentProcessed) != 1 || env.publisher.count(events.TypePaymentDeclined) != 0 {
		t.Fatalf("unexpected events %v", env.publisher.types())
	}

	pending, err := env.paymentSvc.List(ctx, repository.PaymentFilter{Status: models.PaymentStatusPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending payments, got %d", len(pending))
	}
	if _, err := env.paymentSvc.List(ctx, repository.PaymentFilter{Status: "refunded"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestCreate_UnknownAccount(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	_, err := env.paymentSvc.Create(context.Background(), "nope", OperatorPaymentRequest{
		PaymentRequest: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard()},
		Amount:         decimal.NewFromInt(10),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecryptDetails_Audited(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000")
	ctx := WithClientIP(context.Background(), "10.0.0.7")

	res, err := env.paymentSvc.Create(ctx, "a1", OperatorPaymentRequest{
		PaymentRequest: PaymentRequest{Type: models.PaymentTypeCheck, Check: validCheck()},
		Amount:         decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	details, err := env.paymentSvc.DecryptDetails(ctx, res.Payment.PaymentID, "ops@example.com")
	if err != nil {
		t.Fatalf("DecryptDetails: %v", err)
	}
	if details.Check == nil || details.Check.RoutingNumber != "021000021" {
		t.Fatalf("unexpected details %+v", details)
	}

	viewed, _ := env.recorder.Search(ctx, audit.Filter{EventType: models.EventPaymentDetailsViewed})
	if len(viewed) != 1 || viewed[0].PaymentID != res.Payment.PaymentID || viewed[0].IPAddress != "10.0.0.7" {
		t.Fatalf("details access not audited: %+v", viewed)
	}
}

func TestDueOn(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000")
	ctx := context.Background()

	for _, date := range []string{"2026-03-12", "2026-03-13", ""} {
		_, err := env.paymentSvc.Create(ctx, "a1", OperatorPaymentRequest{
			PaymentRequest: PaymentRequest{Type: models.PaymentTypeCard, Card: validCard(), PostDate: date},
			Amount:         decimal.NewFromInt(10),
		})
		if err != nil {
			t.Fatalf("Create(%q): %v", date, err)
		}
	}

	due, err := env.paymentSvc.DueOn(ctx, testNow.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("DueOn: %v", err)
	}
	if len(due) != 1 || due[0].PostDate.Format("2006-01-02") != "2026-03-12" {
		t.Fatalf("unexpected due payments %+v", due)
	}
}

type stageCounter struct {
	analytics.NoopTracker
	stages []string
}

func (c *stageCounter) Track(ctx context.Context, event analytics.FunnelEvent) {
	c.stages = append(c.stages, event.Stage)
}

func settledSession(t *testing.T, env *testEnv, phone, ssn string) string {
	t.Helper()
	id := env.verified(t, phone, ssn)
	if _, err := env.resolution.SelectOffer(context.Background(), id, models.OfferSettlement); err != nil {
		t.Fatalf("SelectOffer: %v", err)
	}
	return id
}

func TestSubmit_KeyScopedToAccount(t *testing.T) {
	for _, global := range []bool{false, true} {
		env := newTestEnv(t, defaultSettings())
		env.payments.globalKeys = global
		env.accounts.add("a1", "Alice Able", "1111", "1000", "5550000001")
		env.accounts.add("b1", "Bob Baker", "2222", "500", "5550000002")
		ctx := context.Background()
		req := PaymentRequest{IdempotencyKey: "shared", Type: models.PaymentTypeCard, Card: validCard()}

		alice := settledSession(t, env, "5550000001", "1111")
		if _, err := env.paymentSvc.Submit(ctx, alice, req); err != nil {
			t.Fatalf("alice Submit: %v", err)
		}

		bob := settledSession(t, env, "5550000002", "2222")
		res, err := env.paymentSvc.Submit(ctx, bob, req)
		if global {
			if !errors.Is(err, ErrConflict) || res != nil {
				t.Fatalf("expected ErrConflict for a key held by another account, got %+v %v", res, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("bob Submit: %v", err)
		}
		if !res.Created || res.Payment.AccountID != "b1" || res.Payment.DebtorName != "Bob Baker" {
			t.Fatalf("bob received %+v", res.Payment)
		}
	}
}

func TestSubmit_RetryAfterStoreFailure(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000", "5551234567")
	ctx := context.Background()
	id := settledSession(t, env, "5551234567", "6789")
	req := PaymentRequest{IdempotencyKey: "retry-key", Type: models.PaymentTypeCard, Card: validCard()}

	env.payments.createErr = errors.New("batch write timeout")
	if _, err := env.paymentSvc.Submit(ctx, id, req); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if n := env.publisher.count(events.TypePaymentCreated); n != 0 {
		t.Fatalf("failed write published %d events", n)
	}

	res, err := env.paymentSvc.Submit(ctx, id, req)
	if err != nil || !res.Created {
		t.Fatalf("retry should create the payment, got %+v %v", res, err)
	}
}

func TestSubmit_ReplayNotTracked(t *testing.T) {
	env := newTestEnv(t, defaultSettings())
	env.accounts.add("a1", "Jane Doe", "6789", "1000", "5551234567")
	tracker := &stageCounter{}
	env.paymentSvc.tracker = tracker
	ctx := context.Background()
	id := settledSession(t, env, "5551234567", "6789")
	req := PaymentRequest{IdempotencyKey: "once", Type: models.PaymentTypeCard, Card: validCard()}

	for i := 0; i < 3; i++ {
		if _, err := env.paymentSvc.Submit(ctx, id, req); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	n := 0
	for _, stage := range tracker.stages {
		if stage == analytics.StagePaymentSubmitted {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one payment_submitted stage, got %d", n)
	}
}
