package token

import (
	"errors"
	"testing"
	"time"

	"portal-service/internal/config"
)

func newTestManager(t *testing.T, secret string) *Manager {
	t.Helper()
	m, err := NewManager(&config.Config{Token: config.TokenConfig{
		Secret: secret,
		TTL:    10 * time.Minute,
		Issuer: "portal-service",
	}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t, "secret")
	raw, exp, err := m.Issue("session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %s", exp)
	}
	sid, err := m.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sid != "session-1" {
		t.Fatalf("expected session-1, got %q", sid)
	}
}

func TestParse_Rejects(t *testing.T) {
	m := newTestManager(t, "secret")
	raw, _, _ := m.Issue("session-1")

	if _, err := newTestManager(t, "other").Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	expired := newTestManager(t, "secret")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.Issue("session-2")
	if _, err := m.Parse(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := m.Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestNewManager_RequiresSecret(t *testing.T) {
	if _, err := NewManager(&config.Config{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
