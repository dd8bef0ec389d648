package token

import (
	"errors"
	"fmt"
	"time"

	"portal-service/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid portal token")

// PortalClaims binds a bearer token to one verification session.
type PortalClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and parses HS256 portal tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewManager(cfg *config.Config) (*Manager, error) {
	if cfg.Token.Secret == "" {
		return nil, errors.New("token secret is not configured")
	}
	return &Manager{
		secret: []byte(cfg.Token.Secret),
		ttl:    cfg.Token.TTL,
		issuer: cfg.Token.Issuer,
		now:    time.Now,
	}, nil
}

func (m *Manager) Issue(sessionID string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := PortalClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign portal token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates the token and returns its session id.
func (m *Manager) Parse(raw string) (string, error) {
	claims := &PortalClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}
