package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/gofrs/uuid"
)

// analyze runs the fixed battery of sub-analyses over an authenticated
// response and its evidence bundle, computes the risk score and persists the
// analysis. History lookups fail open: an unavailable store reads as "no
// prior data" and the analysis proceeds.
func (e *Engine) analyze(ctx context.Context, verdict *StructuralVerdict, ev *Evidence) *Analysis {
	flags := Flags{Details: make(map[string]any)}
	if verdict.Status == StructuralExpired {
		flags.LateResponse = true
		flags.Details["structural"] = "response after challenge expiry"
	}

	now := e.cfg.Now()
	facts := e.analyzeSignal(ev, &flags)
	e.analyzeTiming(now.UnixMilli(), verdict.RespondedAt, &flags)
	e.analyzeLocation(ctx, verdict.ParticipantID, ev, &flags)
	e.analyzeWifi(ev, &flags)
	e.analyzeDevice(ctx, verdict.ParticipantID, verdict.DeviceID, ev, &flags)
	e.analyzeBehavior(ctx, verdict.ParticipantID, verdict.ResponseLatencyMs, &flags)

	if len(flags.Details) == 0 {
		flags.Details = nil
	}

	analysisID := uuid.Must(uuid.NewV4()).String()
	analysis := &Analysis{
		AnalysisID:    analysisID,
		ParticipantID: verdict.ParticipantID,
		SessionID:     verdict.SessionID,
		Timestamp:     now.UnixMilli(),
		Flags:         flags,
		RiskScore:     riskScore(flags),
		Evidence: EvidenceSummary{
			RSSI:              ev.RSSI,
			SignalClass:       facts.SignalClass,
			EstimatedDistance: facts.EstimatedDistance,
			ResponseLatencyMs: verdict.ResponseLatencyMs,
			WifiNetworkCount:  len(ev.WifiNetworks),
			HasLocation:       ev.Location != nil,
			Attestation:       ev.DeviceAttestation,
		},
	}
	if ev.Location != nil {
		analysis.Evidence.LocationAccuracy = ev.Location.Accuracy
	}

	e.persistAnalysis(ctx, analysis)
	return analysis
}

// analyzeSignal classifies RSSI. Thresholds are inclusive on the weak and
// medium boundaries: rssi <= weak → weak, rssi <= medium → medium.
func (e *Engine) analyzeSignal(ev *Evidence, flags *Flags) ProximityFacts {
	facts := ProximityFacts{EstimatedDistance: estimateDistanceM(ev.RSSI)}
	switch {
	case ev.RSSI <= e.cfg.RSSIWeakThreshold:
		facts.SignalClass = SignalWeak
	case ev.RSSI <= e.cfg.RSSIMediumThreshold:
		facts.SignalClass = SignalMedium
	default:
		facts.SignalClass = SignalStrong
	}
	if facts.SignalClass == SignalWeak {
		flags.WeakSignal = true
		flags.Details["weakSignal"] = map[string]any{
			"rssi":               ev.RSSI,
			"estimatedDistanceM": math.Round(facts.EstimatedDistance*100) / 100,
		}
	}
	return facts
}

// analyzeTiming checks wall-clock distance between now and the client's
// respondedAt stamp. Between suspiciousFast and minHuman is suspicious but
// sets no flag on its own.
func (e *Engine) analyzeTiming(nowMs, respondedAtMs int64, flags *Flags) {
	elapsed := nowMs - respondedAtMs
	if elapsed > e.cfg.ResponseMaxReasonable.Milliseconds() {
		flags.LateResponse = true
		flags.Details["lateResponse"] = map[string]any{"elapsedMs": elapsed}
	}
	switch {
	case elapsed < e.cfg.ResponseSuspiciousFast.Milliseconds():
		flags.UnusualPattern = true
		flags.Details["fastResponse"] = map[string]any{"elapsedMs": elapsed}
	case elapsed < e.cfg.ResponseMinHuman.Milliseconds():
		// Suspicious but not conclusive; recorded for diagnostics only.
		flags.Details["belowMinHuman"] = map[string]any{"elapsedMs": elapsed}
	}
}

// analyzeLocation checks coordinate plausibility against the participant's
// last stored location, then records the current one.
func (e *Engine) analyzeLocation(ctx context.Context, participantID string, ev *Evidence, flags *Flags) {
	loc := ev.Location
	if loc == nil {
		return
	}

	if loc.Latitude == 0 && loc.Longitude == 0 {
		flags.InvalidLocation = true
		flags.Details["nullIsland"] = true
	}
	// No consumer-grade receiver legitimately reports sub-metre accuracy
	// indoors.
	if loc.Accuracy > 0 && loc.Accuracy < 1 {
		flags.MockedLocation = true
		flags.Details["accuracy"] = loc.Accuracy
	}
	// Client timestamps far in the future are not trustworthy evidence.
	if loc.Timestamp > e.cfg.Now().UnixMilli()+e.cfg.ChallengeValidity.Milliseconds() {
		flags.InvalidLocation = true
		flags.Details["futureTimestamp"] = loc.Timestamp
	}

	key := evidence.LastLocationKey(participantID)
	if raw, err := e.store.Get(ctx, key); err == nil {
		var last Location
		if err := json.Unmarshal(raw, &last); err == nil {
			d := haversineM(last.Latitude, last.Longitude, loc.Latitude, loc.Longitude)
			dt := loc.Timestamp - last.Timestamp
			if dt < 0 {
				dt = 0
			}
			if d > e.cfg.LocationJumpDistanceM && dt < e.cfg.LocationMinMovementTime.Milliseconds() {
				flags.InvalidLocation = true
				flags.Details["jump"] = map[string]any{
					"distanceM": math.Round(d),
					"deltaMs":   dt,
				}
			}
		}
	} else if !errors.Is(err, evidence.ErrNotFound) {
		e.logger.Warn().Err(err).Str("participantId", participantID).
			Msg("Location history unavailable; treating as no prior data")
	}

	if encoded, err := json.Marshal(loc); err == nil {
		if err := e.store.PutWithTTL(ctx, key, encoded, e.cfg.LocationTTL); err != nil {
			e.logger.Warn().Err(err).Str("participantId", participantID).
				Msg("Failed to record last location")
		}
	}
}

// analyzeWifi checks the wireless environment: network count bounds and a
// case-insensitive substring blacklist, so "guest-MOCK_WIFI-2" still flags.
func (e *Engine) analyzeWifi(ev *Evidence, flags *Flags) {
	n := len(ev.WifiNetworks)
	if n < e.cfg.WifiMinExpected || n > e.cfg.WifiMaxReasonable {
		flags.SuspiciousWifi = true
		flags.Details["wifiCount"] = n
		return
	}
	for _, ssid := range ev.WifiNetworks {
		upper := strings.ToUpper(ssid)
		for _, banned := range e.cfg.WifiBlacklist {
			if strings.Contains(upper, strings.ToUpper(banned)) {
				flags.SuspiciousWifi = true
				flags.Details["blacklistedSSID"] = ssid
				return
			}
		}
	}
}

// analyzeDevice checks device binding and attestation, then appends this
// (device, participant) use. Append-to-set semantics mean two concurrent
// first-uses from distinct participants both land in the set and both flag
// their successors.
func (e *Engine) analyzeDevice(ctx context.Context, participantID, deviceID string, ev *Evidence, flags *Flags) {
	if deviceID != "" {
		key := evidence.DeviceUsageKey(deviceID)
		members, err := e.store.SetMembers(ctx, key)
		if err != nil {
			e.logger.Warn().Err(err).Str("deviceId", deviceID).
				Msg("Device usage unavailable; treating as no prior data")
		}
		for _, other := range members {
			if other != participantID {
				flags.DuplicateDevice = true
				flags.Details["deviceSharedWith"] = len(members)
				break
			}
		}
		if err := e.store.AddSetMember(ctx, key, participantID, e.cfg.DeviceUsageTTL); err != nil {
			e.logger.Warn().Err(err).Str("deviceId", deviceID).
				Msg("Failed to record device usage")
		}
	}

	for _, token := range ev.DeviceAttestation {
		lower := strings.ToLower(token)
		for _, banned := range e.cfg.AttestationBlacklist {
			if lower == banned {
				flags.RootedDevice = true
				flags.Details["attestation"] = token
				break
			}
		}
		if flags.RootedDevice {
			break
		}
	}
}

// analyzeBehavior compares response latency against the participant's rolling
// baseline and folds the new observation in with an EWMA.
func (e *Engine) analyzeBehavior(ctx context.Context, participantID string, latencyMs int64, flags *Flags) {
	key := evidence.BehaviorKey(participantID)
	var baseline BehavioralBaseline
	if raw, err := e.store.Get(ctx, key); err == nil {
		if err := json.Unmarshal(raw, &baseline); err != nil {
			baseline = BehavioralBaseline{}
		}
	} else if !errors.Is(err, evidence.ErrNotFound) {
		e.logger.Warn().Err(err).Str("participantId", participantID).
			Msg("Behavioral baseline unavailable; treating as no prior data")
	}

	latency := float64(latencyMs)
	if baseline.Samples > 0 && math.Abs(latency-baseline.MeanLatencyMs) > 0.5*baseline.MeanLatencyMs {
		flags.UnusualPattern = true
		flags.Details["latencyDeviation"] = map[string]any{
			"latencyMs":  latencyMs,
			"baselineMs": math.Round(baseline.MeanLatencyMs),
		}
	}

	alpha := e.cfg.BehavioralAlpha
	if baseline.Samples == 0 {
		baseline.MeanLatencyMs = latency
		baseline.VarianceLatencyMs = 0
	} else {
		delta := latency - baseline.MeanLatencyMs
		baseline.MeanLatencyMs += alpha * delta
		baseline.VarianceLatencyMs = (1 - alpha) * (baseline.VarianceLatencyMs + alpha*delta*delta)
	}
	baseline.Samples++
	baseline.UpdatedAt = e.cfg.Now().UnixMilli()

	if encoded, err := json.Marshal(baseline); err == nil {
		// Last-writer-wins; minor loss under concurrency is acceptable.
		if err := e.store.PutWithTTL(ctx, key, encoded, e.cfg.AnalysisTTL); err != nil {
			e.logger.Warn().Err(err).Str("participantId", participantID).
				Msg("Failed to update behavioral baseline")
		}
	}
}

// riskScore normalises the sum of tripped flag weights by the sum of all
// weights. The fixed denominator means every flag tripping scores exactly
// 100; partial scores are a fraction of that same denominator.
func riskScore(flags Flags) int {
	var tripped float64
	for _, name := range flags.Tripped() {
		tripped += riskWeights[name]
	}
	score := math.Round(100 * tripped / totalRiskWeight())
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return int(score)
}

// persistAnalysis writes the analysis and its session index entry. Failures
// are logged, not fatal; the verdict still goes back to the caller.
func (e *Engine) persistAnalysis(ctx context.Context, analysis *Analysis) {
	encoded, err := json.Marshal(analysis)
	if err != nil {
		e.logger.Error().Err(err).Str("analysisId", analysis.AnalysisID).Msg("Failed to encode analysis")
		return
	}
	key := evidence.AnalysisKey(analysis.ParticipantID, analysis.Timestamp)
	if err := e.store.PutWithTTL(ctx, key, encoded, e.cfg.AnalysisTTL); err != nil {
		e.logger.Error().Err(err).Str("analysisId", analysis.AnalysisID).Msg("Failed to persist analysis")
		return
	}
	indexKey := evidence.SessionAnalysesKey(analysis.SessionID)
	if err := e.store.AddSetMember(ctx, indexKey, key, e.cfg.AnalysisTTL); err != nil {
		e.logger.Error().Err(err).Str("analysisId", analysis.AnalysisID).Msg("Failed to index analysis")
	}
}
