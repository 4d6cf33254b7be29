package engine

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attendly/presence-engine/pkg/evidence"
)

// IssueChallenge mints a fresh challenge for a session and persists it under
// challenge:{sessionId}. Reissuing for the same session overwrites the prior
// challenge, which invalidates responses still in flight against it.
func (e *Engine) IssueChallenge(ctx context.Context, sessionID, organiserID string, metadata map[string]string) (*Challenge, error) {
	code := make([]byte, e.cfg.ChallengeCodeSize)
	if _, err := rand.Read(code); err != nil {
		return nil, fmt.Errorf("sample challenge code: %w", err)
	}
	nonce := make([]byte, e.cfg.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sample nonce: %w", err)
	}

	now := e.cfg.Now()
	challenge := &Challenge{
		SessionID:     sessionID,
		ChallengeCode: code,
		Nonce:         nonce,
		IssuedAt:      now.UnixMilli(),
		ExpiresAt:     now.Add(e.cfg.ChallengeValidity).UnixMilli(),
		OrganiserID:   organiserID,
		Metadata:      metadata,
	}

	encoded, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("encode challenge: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ChallengeValidity)
	defer cancel()

	key := evidence.ChallengeKey(sessionID)
	existing, err := e.store.Get(ctx, key)
	if err != nil && !errors.Is(err, evidence.ErrNotFound) {
		return nil, fmt.Errorf("check existing challenge: %w", err)
	}
	if existing != nil {
		e.logger.Warn().
			Str("sessionId", sessionID).
			Str("organiserId", organiserID).
			Msg("Reissuing challenge; prior challenge overwritten")
	}

	// Held for at least the validity window so late responses can still be
	// resolved against it for observability.
	if err := e.store.PutWithTTL(ctx, key, encoded, 2*e.cfg.ChallengeValidity); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	e.metrics.challengesIssued.Inc()
	e.logger.Info().
		Str("sessionId", sessionID).
		Str("organiserId", organiserID).
		Int64("expiresAt", challenge.ExpiresAt).
		Msg("Challenge issued")

	return challenge, nil
}
