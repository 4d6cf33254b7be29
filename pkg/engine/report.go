package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attendly/presence-engine/pkg/evidence"
)

// SessionReport aggregates every analysis written for a session. It reads the
// analyses:by-session index instead of scanning the keyspace, so cost scales
// with the session, not the store.
func (e *Engine) SessionReport(ctx context.Context, sessionID string) (*SessionReport, error) {
	keys, err := e.store.SetMembers(ctx, evidence.SessionAnalysesKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}

	report := &SessionReport{
		SessionID:      sessionID,
		FlagTypeCounts: make(map[string]int),
	}

	for _, key := range keys {
		raw, err := e.store.Get(ctx, key)
		if err != nil {
			// Analyses expire independently of the index entry.
			if errors.Is(err, evidence.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read analysis %s: %w", key, err)
		}
		var analysis Analysis
		if err := json.Unmarshal(raw, &analysis); err != nil {
			e.logger.Warn().Err(err).Str("key", key).Msg("Skipping undecodable analysis")
			continue
		}

		report.TotalResponses++
		if analysis.Flags.Any() {
			report.FlaggedResponses++
		}
		switch BandForScore(analysis.RiskScore) {
		case RiskLow:
			report.RiskDistribution.Low++
		case RiskMedium:
			report.RiskDistribution.Medium++
		default:
			report.RiskDistribution.High++
		}
		for _, name := range analysis.Flags.Tripped() {
			report.FlagTypeCounts[name]++
		}
	}

	report.Recommendations = recommendations(report)
	return report, nil
}

func recommendations(report *SessionReport) []string {
	recs := make([]string, 0, 3)
	if report.TotalResponses > 0 &&
		float64(report.FlaggedResponses)/float64(report.TotalResponses) > 0.10 {
		recs = append(recs, "review attendance policies")
	}
	if report.FlagTypeCounts["duplicateDevice"] > 0 {
		recs = append(recs, "enforce device binding")
	}
	if report.FlagTypeCounts["weakSignal"] > 5 {
		recs = append(recs, "check short-range radio range")
	}
	return recs
}
