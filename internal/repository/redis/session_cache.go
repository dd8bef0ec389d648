package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portal-service/internal/client"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/util"
)

const verificationSessionPrefix = "portal_session:"

// SessionCache stores verification sessions as JSON with a TTL.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) SaveSession(ctx context.Context, session *models.VerificationSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := c.client.Set(ctx, verificationSessionPrefix+session.SessionID, data, ttl); err != nil {
		util.Error("Failed to save verification session",
			zap.String("session_id", session.SessionID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}

	util.Debug("Verification session saved",
		zap.String("session_id", session.SessionID),
		zap.String("step", string(session.Step)))
	return nil
}

func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (*models.VerificationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, verificationSessionPrefix+sessionID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to get verification session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.VerificationSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (c *SessionCache) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, verificationSessionPrefix+sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	util.Debug("Verification session deleted", zap.String("session_id", sessionID))
	return nil
}
