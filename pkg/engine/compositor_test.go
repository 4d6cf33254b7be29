package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/attendly/presence-engine/pkg/engine"
	"github.com/stretchr/testify/require"
)

// flaggedRecord submits a weak-signal response and returns its record.
func flaggedRecord(t *testing.T, env *testEnv) *engine.AttendanceRecord {
	t.Helper()
	ev := benignEvidence()
	ev.RSSI = -82
	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.Equal(t, engine.OutcomeFlagged, record.Outcome)
	return record
}

func TestApplyOverride(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	record := flaggedRecord(t, env)

	updated, err := env.eng.ApplyOverride(context.Background(),
		record.RecordID, "admin", "verified in person", engine.OutcomePresent)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomePresent, updated.Outcome)
	require.NotNil(t, updated.Override)
	require.Equal(t, "admin", updated.Override.ActorID)
	require.Equal(t, "verified in person", updated.Override.Reason)
}

func TestApplyOverrideToRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	record := flaggedRecord(t, env)

	updated, err := env.eng.ApplyOverride(context.Background(),
		record.RecordID, "admin", "confirmed proxy fraud", engine.OutcomeRejected)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeRejected, updated.Outcome)
}

func TestOverrideUnauthorised(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	record := flaggedRecord(t, env)

	_, err := env.eng.ApplyOverride(context.Background(),
		record.RecordID, "not-an-admin", "please", engine.OutcomePresent)
	require.ErrorIs(t, err, engine.ErrOverrideUnauthorised)
}

func TestOverrideInvalidOutcome(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	record := flaggedRecord(t, env)

	_, err := env.eng.ApplyOverride(context.Background(),
		record.RecordID, "admin", "flag it harder", engine.OutcomeFlagged)
	require.ErrorIs(t, err, engine.ErrInvalidOutcome)
}

func TestOverrideRequiresFlaggedRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	record := verifyWith(t, env, "session-1", "p1", "device-1", benignEvidence())
	require.Equal(t, engine.OutcomePresent, record.Outcome)

	_, err := env.eng.ApplyOverride(context.Background(),
		record.RecordID, "admin", "no reason to touch this", engine.OutcomeRejected)
	require.ErrorIs(t, err, engine.ErrRecordNotFlagged)
}

func TestOverrideUnknownRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.eng.ApplyOverride(context.Background(),
		"no-such-record", "admin", "reason", engine.OutcomePresent)
	require.ErrorIs(t, err, engine.ErrRecordNotFound)
}

func TestOverrideDeniedWithoutAuthorizer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *engine.Config) {
		cfg.OverrideAuthorizer = nil
	})
	record := flaggedRecord(t, env)

	_, err := env.eng.ApplyOverride(context.Background(),
		record.RecordID, "admin", "reason", engine.OutcomePresent)
	require.ErrorIs(t, err, engine.ErrOverrideUnauthorised)
}

func TestFlaggedResubmissionRefreshesEvidence(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	blob, _ := issueAndRespond(t, env, "session-1", "p1", "device-1", 4200*time.Millisecond)
	env.clock.Advance(5 * time.Second)

	ev := benignEvidence()
	ev.RSSI = -82
	first, err := env.eng.VerifyResponse(context.Background(), blob, ev)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFlagged, first.Outcome)

	// Re-submission with better evidence: outcome and risk stand, but the
	// record now points at the newer analysis.
	second, err := env.eng.VerifyResponse(context.Background(), blob, benignEvidence())
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.RecordID, second.RecordID)
	require.Equal(t, engine.OutcomeFlagged, second.Outcome)
	require.Equal(t, first.RiskScore, second.RiskScore)
	require.NotEqual(t, first.AnalysisID, second.AnalysisID)
}
