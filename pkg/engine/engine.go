package engine

import (
	"context"
	"fmt"

	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/attendly/presence-engine/pkg/keyedmac"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Engine is the presence verification engine. Construct one at process init
// and pass it by reference to handlers; it holds no per-request state beyond
// the evidence store.
type Engine struct {
	cfg     Config
	store   evidence.Store
	signer  *keyedmac.Signer
	logger  *zerolog.Logger
	sem     *semaphore.Weighted
	metrics *engineMetrics
}

// New validates the configuration and builds an engine over the given store.
func New(cfg Config, store evidence.Store, logger *zerolog.Logger) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	signer, err := keyedmac.NewSigner(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		signer:  signer,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.VerifyConcurrency),
		metrics: newEngineMetrics(),
	}, nil
}

// VerifyResponse processes one signed response and its evidence bundle and
// returns the attendance record. Per-response failures come back as records,
// not errors; an error here means the engine itself could not proceed.
//
// The call admits at most VerifyConcurrency responses at once and carries a
// deadline bounded by the challenge validity window, so a stalled store
// cannot pin workers past the point where the challenge matters.
func (e *Engine) VerifyResponse(ctx context.Context, blob string, ev *Evidence) (*AttendanceRecord, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire verification slot: %w", err)
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ChallengeValidity)
	defer cancel()

	if ev == nil {
		ev = &Evidence{}
	}

	verdict := e.verifyStructure(ctx, blob)

	var analysis *Analysis
	if verdict.Status != StructuralFail {
		analysis = e.analyze(ctx, verdict, ev)
	}

	record, err := e.compose(ctx, verdict, analysis)
	if err != nil {
		return nil, err
	}

	e.metrics.observe(record)

	logEvent := e.logger.Info()
	if record.Outcome != OutcomePresent {
		logEvent = e.logger.Warn()
	}
	logEvent.
		Str("sessionId", record.SessionID).
		Str("participantId", record.ParticipantID).
		Str("analysisId", record.AnalysisID).
		Str("outcome", string(record.Outcome)).
		Int("riskScore", record.RiskScore).
		Strs("flags", record.Flags.Tripped()).
		Bool("duplicate", record.Duplicate).
		Msg("Response processed")

	return record, nil
}

// Close releases engine resources and zeroises the secret.
func (e *Engine) Close() {
	e.signer.Zeroise()
}
