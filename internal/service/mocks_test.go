package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/bucketing"
	"portal-service/internal/config"
	"portal-service/internal/encryption"
	"portal-service/internal/events"
	"portal-service/internal/hashing"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/token"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	phones   []models.PhoneNumber
	lookups  int
	gets     int
	failNext error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[string]*models.Account{}}
}

func (f *fakeAccounts) add(id, name, ssn string, balance string, phones ...string) {
	a := &models.Account{AccountID: id, AccountNumber: "ACC-" + id, DebtorName: name, SSNLast4: ssn, Status: "new"}
	if balance != "" {
		b := decimal.RequireFromString(balance)
		a.CurrentBalance = &b
	}
	f.accounts[id] = a
	for _, p := range phones {
		f.phones = append(f.phones, models.PhoneNumber{PhoneID: id + p, AccountID: id, Number: p, Status: models.PhoneStatusUnknown, DebtorName: name})
	}
}

func (f *fakeAccounts) CreateAccount(ctx context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	copied := *account
	f.accounts[account.AccountID] = &copied
	return nil
}

func (f *fakeAccounts) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAccounts) FindAccountsByPhone(ctx context.Context, phone string) ([]models.AccountMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	matches := []models.AccountMatch{}
	for _, p := range f.phones {
		if p.Number == phone {
			matches = append(matches, models.AccountMatch{AccountID: p.AccountID, DebtorName: p.DebtorName})
		}
	}
	return matches, nil
}

func (f *fakeAccounts) AddPhoneNumber(ctx context.Context, phone *models.PhoneNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = append(f.phones, *phone)
	return nil
}

func (f *fakeAccounts) ListPhoneNumbers(ctx context.Context, accountID string) ([]models.PhoneNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.PhoneNumber{}
	for _, p := range f.phones {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeAccounts) UpdatePhoneStatus(ctx context.Context, accountID, phone string, status models.PhoneStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.phones {
		if f.phones[i].AccountID == accountID && f.phones[i].Number == phone {
			f.phones[i].Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeAccounts) HealthCheck(ctx context.Context) error { return nil }

type fakePayments struct {
	mu    sync.Mutex
	byID  map[string]*models.Payment
	byKey map[string]string
	// globalKeys ignores the account when matching keys.
	globalKeys bool
	createErr  error
}

func newFakePayments() *fakePayments {
	return &fakePayments{byID: map[string]*models.Payment{}, byKey: map[string]string{}}
}

func (f *fakePayments) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		return nil, false, err
	}
	key := p.AccountID + "/" + p.IdempotencyKey
	if f.globalKeys {
		key = p.IdempotencyKey
	}
	if id, ok := f.byKey[key]; ok {
		copied := *f.byID[id]
		return &copied, false, nil
	}
	copied := *p
	f.byID[p.PaymentID] = &copied
	f.byKey[key] = p.PaymentID
	return p, true, nil
}

func (f *fakePayments) GetPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[paymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePayments) ListPayments(ctx context.Context, filter repository.PaymentFilter) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Payment{}
	for _, p := range f.byID {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.AccountID != "" && p.AccountID != filter.AccountID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakePayments) ListDuePayments(ctx context.Context, day time.Time) ([]models.Payment, error) {
	start, end := repository.DayRange(day)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Payment{}
	for _, p := range f.byID {
		if p.Status == models.PaymentStatusPending && p.PostDate != nil &&
			!p.PostDate.Before(start) && p.PostDate.Before(end) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) TransitionStatus(ctx context.Context, paymentID string, next models.PaymentStatus) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[paymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !p.Status.CanTransition(next) {
		return nil, repository.ErrInvalidTransition
	}
	p.Status = next
	copied := *p
	return &copied, nil
}

func (f *fakePayments) HealthCheck(ctx context.Context) error { return nil }

// fakeSessions round-trips through JSON like the Redis cache does.
type fakeSessions struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (f *fakeSessions) SaveSession(ctx context.Context, session *models.VerificationSession, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[session.SessionID] = raw
	return nil
}

func (f *fakeSessions) GetSession(ctx context.Context, sessionID string) (*models.VerificationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var s models.VerificationSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *fakeSessions) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, sessionID)
	return nil
}

type fakeAttempts struct {
	mu     sync.Mutex
	counts map[string]int
	locked map[string]bool
}

func (f *fakeAttempts) IsLocked(ctx context.Context, key string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[key] {
		return true, time.Minute, nil
	}
	return false, 0, nil
}

func (f *fakeAttempts) RecordFailure(ctx context.Context, key string, window time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeAttempts) Lock(ctx context.Context, key string, window time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[key] = true
	return nil
}

func (f *fakeAttempts) Reset(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) count(eventType string) int {
	n := 0
	for _, t := range p.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	accounts     *fakeAccounts
	payments     *fakePayments
	sessions     *fakeSessions
	attempts     *fakeAttempts
	publisher    *recordingPublisher
	recorder     *audit.MemoryRecorder
	hasher       *hashing.Hasher
	encryptor    *encryption.EncryptionManager
	verification *VerificationService
	resolution   *ResolutionService
	paymentSvc   *PaymentService
}

func testServiceConfig() *config.Config {
	return &config.Config{
		Encryption: config.EncryptionConfig{Key: "operator-key", Salt: "test-salt"},
		Hashing: config.HashingConfig{
			Pepper:            "pepper",
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Token: config.TokenConfig{Secret: "token-secret", TTL: 30 * time.Minute, Issuer: "portal-test"},
	}
}

func newTestEnv(t *testing.T, settings VerificationSettings) *testEnv {
	t.Helper()
	cfg := testServiceConfig()
	hasher, err := hashing.NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	em, err := encryption.NewEncryptionManager(cfg, nil, hasher)
	if err != nil {
		t.Fatalf("NewEncryptionManager: %v", err)
	}
	tokens, err := token.NewManager(cfg)
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}

	env := &testEnv{
		accounts:  newFakeAccounts(),
		payments:  newFakePayments(),
		sessions:  &fakeSessions{data: map[string][]byte{}},
		attempts:  &fakeAttempts{counts: map[string]int{}, locked: map[string]bool{}},
		publisher: &recordingPublisher{},
		recorder:  audit.NewMemoryRecorder(100, bucketing.NewBucketingManager(cfg), zap.NewNop()),
		hasher:    hasher,
		encryptor: em,
	}

	env.verification = NewVerificationService(
		env.accounts, env.sessions, env.attempts, hasher, tokens,
		env.publisher, env.recorder, analytics.NoopTracker{}, settings, zap.NewNop(),
	)
	env.verification.now = func() time.Time { return testNow }
	env.resolution = NewResolutionService(env.verification, analytics.NoopTracker{}, zap.NewNop())
	env.paymentSvc = NewPaymentService(
		env.payments, env.accounts, env.verification, em,
		env.publisher, env.recorder, analytics.NoopTracker{}, zap.NewNop(),
	)
	env.paymentSvc.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) start(t *testing.T) string {
	t.Helper()
	res, err := e.verification.StartSession(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return res.Session.SessionID
}

// verified returns a session at the account step for the given account.
func (e *testEnv) verified(t *testing.T, phone, ssn string) string {
	t.Helper()
	ctx := context.Background()
	id := e.start(t)
	if _, err := e.verification.SubmitPhone(ctx, id, phone); err != nil {
		t.Fatalf("SubmitPhone: %v", err)
	}
	if _, err := e.verification.SubmitVerification(ctx, id, ssn); err != nil {
		t.Fatalf("SubmitVerification: %v", err)
	}
	return id
}
