package engine

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/attendly/presence-engine/pkg/keyedmac"
)

// signedResponse is the outer wire wrapper: a payload plus the hex MAC over
// its canonical JSON encoding, the whole document base64url-encoded.
type signedResponse struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// verifyStructure runs the ordered structural checks over a signed response
// blob. It never inspects radio, location or wifi evidence; only the
// cryptography and timing of the challenge itself. Fatal failures
// short-circuit with StructuralFail; an expired-but-authentic response is
// forwarded with StructuralExpired so the analyzer still sees it.
func (e *Engine) verifyStructure(ctx context.Context, blob string) *StructuralVerdict {
	decoded, err := base64.URLEncoding.DecodeString(blob)
	if err != nil {
		// Clients may strip padding.
		decoded, err = base64.RawURLEncoding.DecodeString(blob)
		if err != nil {
			return failVerdict("malformed response encoding", nil)
		}
	}

	var wrapper signedResponse
	if err := json.Unmarshal(decoded, &wrapper); err != nil || len(wrapper.Payload) == 0 {
		return failVerdict("malformed response wrapper", nil)
	}

	canonical, err := keyedmac.CanonicalRaw(wrapper.Payload)
	if err != nil {
		return failVerdict("malformed response payload", nil)
	}
	if !e.signer.VerifyCanonical(canonical, wrapper.Signature) {
		return failVerdict("signature mismatch", nil)
	}

	var payload ResponsePayload
	if err := json.Unmarshal(wrapper.Payload, &payload); err != nil {
		return failVerdict("malformed response payload", nil)
	}
	if payload.SessionID == "" || payload.ParticipantID == "" {
		return failVerdict("missing identity fields", nil)
	}

	challenge, err := e.loadChallenge(ctx, payload.SessionID)
	if err != nil {
		// Fail closed: a missing or unreadable challenge is always a rejection.
		return failVerdict("challenge not found", &payload)
	}

	if subtle.ConstantTimeCompare(payload.ChallengeCode, challenge.ChallengeCode) != 1 {
		return failVerdict("challenge code mismatch", &payload)
	}
	if subtle.ConstantTimeCompare(payload.Nonce, challenge.Nonce) != 1 {
		return failVerdict("nonce mismatch", &payload)
	}

	verdict := &StructuralVerdict{
		Status:            StructuralOK,
		ResponseLatencyMs: payload.RespondedAt - challenge.IssuedAt,
		ParticipantID:     payload.ParticipantID,
		DeviceID:          payload.DeviceID,
		SessionID:         payload.SessionID,
		RespondedAt:       payload.RespondedAt,
		Challenge:         challenge,
	}
	if payload.RespondedAt > challenge.ExpiresAt {
		verdict.Status = StructuralExpired
		verdict.Reason = "response after challenge expiry"
	}
	return verdict
}

// failVerdict builds a rejection verdict. When the payload authenticated but
// the challenge check failed, its identity fields are carried along so the
// rejected record is attributable in logs.
func failVerdict(reason string, payload *ResponsePayload) *StructuralVerdict {
	verdict := &StructuralVerdict{Status: StructuralFail, Reason: reason}
	if payload != nil {
		verdict.SessionID = payload.SessionID
		verdict.ParticipantID = payload.ParticipantID
		verdict.DeviceID = payload.DeviceID
	}
	return verdict
}

func (e *Engine) loadChallenge(ctx context.Context, sessionID string) (*Challenge, error) {
	raw, err := e.store.Get(ctx, evidence.ChallengeKey(sessionID))
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	var challenge Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &challenge, nil
}
