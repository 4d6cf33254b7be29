package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/gofrs/uuid"
)

// compose merges the structural verdict and the anti-proxy analysis into a
// final attendance record and commits it. Commit races on the same
// (session, participant) pair resolve by compare-and-set: the first commit
// wins and the loser comes back marked as a duplicate submission.
func (e *Engine) compose(ctx context.Context, verdict *StructuralVerdict, analysis *Analysis) (*AttendanceRecord, error) {
	record := &AttendanceRecord{
		RecordID:      uuid.Must(uuid.NewV4()).String(),
		SessionID:     verdict.SessionID,
		ParticipantID: verdict.ParticipantID,
		DeviceID:      verdict.DeviceID,
		Timestamp:     e.cfg.Now().UnixMilli(),
		Structural:    verdict.Status,
		Reason:        verdict.Reason,
	}
	if analysis != nil {
		record.AnalysisID = analysis.AnalysisID
		record.Flags = analysis.Flags
		record.RiskScore = analysis.RiskScore
	}

	switch verdict.Status {
	case StructuralFail:
		// Rejected records go back to the caller but are never committed:
		// an unauthenticated submission must not be able to claim the
		// (session, participant) slot ahead of the genuine response.
		record.Outcome = OutcomeRejected
		record.RiskScore = 100
		record.Flags.InvalidChallenge = true
		return record, nil
	case StructuralExpired:
		record.Outcome = OutcomeFlagged
		record.Flags.LateResponse = true
	default:
		if record.Flags.Any() {
			record.Outcome = OutcomeFlagged
		} else {
			record.Outcome = OutcomePresent
		}
	}

	return e.commit(ctx, record)
}

// commit performs the CAS write of the attendance record and handles the
// duplicate-submission path.
func (e *Engine) commit(ctx context.Context, record *AttendanceRecord) (*AttendanceRecord, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode attendance record: %w", err)
	}

	key := evidence.AttendanceKey(record.SessionID, record.ParticipantID)
	won, err := e.store.PutIfAbsent(ctx, key, encoded, e.cfg.AnalysisTTL)
	if err != nil {
		return nil, fmt.Errorf("commit attendance record: %w", err)
	}
	if won {
		if err := e.store.PutWithTTL(ctx, evidence.RecordKey(record.RecordID), []byte(key), e.cfg.AnalysisTTL); err != nil {
			e.logger.Warn().Err(err).Str("recordId", record.RecordID).Msg("Failed to index attendance record")
		}
		return record, nil
	}

	// Lost the race or re-submission: the earlier record is canonical. If it
	// was flagged, refresh its evidence pointer; outcome and risk stand.
	existing, err := e.loadAttendance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load existing attendance record: %w", err)
	}
	if existing.Outcome == OutcomeFlagged && record.AnalysisID != "" {
		existing.AnalysisID = record.AnalysisID
		if updated, err := json.Marshal(existing); err == nil {
			if err := e.store.PutWithTTL(ctx, key, updated, e.cfg.AnalysisTTL); err != nil {
				e.logger.Warn().Err(err).Str("recordId", existing.RecordID).
					Msg("Failed to refresh evidence on flagged record")
			}
		}
	}
	existing.Duplicate = true
	return existing, nil
}

func (e *Engine) loadAttendance(ctx context.Context, key string) (*AttendanceRecord, error) {
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var record AttendanceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode attendance record: %w", err)
	}
	return &record, nil
}

// ApplyOverride transitions a flagged record to present or rejected on the
// authority of an external actor. The authorisation predicate is supplied at
// construction; the override is recorded with actor and reason.
func (e *Engine) ApplyOverride(ctx context.Context, recordID, actorID, reason string, newOutcome Outcome) (*AttendanceRecord, error) {
	if e.cfg.OverrideAuthorizer == nil || !e.cfg.OverrideAuthorizer(actorID) {
		return nil, ErrOverrideUnauthorised
	}
	if newOutcome != OutcomePresent && newOutcome != OutcomeRejected {
		return nil, ErrInvalidOutcome
	}

	attendanceKey, err := e.store.Get(ctx, evidence.RecordKey(recordID))
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("resolve record: %w", err)
	}
	record, err := e.loadAttendance(ctx, string(attendanceKey))
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if record.Outcome != OutcomeFlagged {
		return nil, ErrRecordNotFlagged
	}

	record.Outcome = newOutcome
	record.Override = &Override{
		ActorID:   actorID,
		Reason:    reason,
		Outcome:   newOutcome,
		AppliedAt: e.cfg.Now().UnixMilli(),
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode attendance record: %w", err)
	}
	if err := e.store.PutWithTTL(ctx, string(attendanceKey), encoded, e.cfg.AnalysisTTL); err != nil {
		return nil, fmt.Errorf("persist override: %w", err)
	}

	e.logger.Info().
		Str("recordId", recordID).
		Str("actorId", actorID).
		Str("newOutcome", string(newOutcome)).
		Msg("Override applied")

	return record, nil
}
