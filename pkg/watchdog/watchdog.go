// Package watchdog monitors evidence store liveness. The engine fails open
// on history lookups, so a dead store degrades analyses silently; the
// watchdog bounds how long that state can persist by failing the process
// after repeated probe failures.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/rs/zerolog"
)

// WatchdogError is a typed error for watchdog-related errors.
type WatchdogError string

func (e WatchdogError) Error() string { return string(e) }

const (
	// ErrStoreRequired is returned when no store is supplied.
	ErrStoreRequired = WatchdogError("evidence store is required")
	// ErrStoreUnhealthy is returned when the store misses too many probes.
	ErrStoreUnhealthy = WatchdogError("evidence store unhealthy")
)

// Settings configures a store watchdog.
type Settings struct {
	// Interval between probes.
	Interval time.Duration
	// MaxFailures is the number of consecutive failed probes tolerated
	// before the watchdog gives up.
	MaxFailures int
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// NewStandardSettings returns the default watchdog settings.
func NewStandardSettings() Settings {
	return Settings{
		Interval:     30 * time.Second,
		MaxFailures:  3,
		ProbeTimeout: 5 * time.Second,
	}
}

// Watchdog periodically pings the evidence store.
type Watchdog struct {
	settings Settings
	store    evidence.Store
}

// New creates a new watchdog over the given store.
func New(settings Settings, store evidence.Store) (*Watchdog, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if settings.Interval <= 0 {
		settings.Interval = 30 * time.Second
	}
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 3
	}
	if settings.ProbeTimeout <= 0 {
		settings.ProbeTimeout = 5 * time.Second
	}
	return &Watchdog{settings: settings, store: store}, nil
}

// Start probes the store until the context is cancelled. It returns nil on
// cancellation and ErrStoreUnhealthy once MaxFailures consecutive probes
// fail.
func (w *Watchdog) Start(ctx context.Context) error {
	logger := zerolog.Ctx(ctx).With().Str("component", "watchdog").Logger()
	ticker := time.NewTicker(w.settings.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.probe(ctx); err != nil {
				failures++
				logger.Warn().Err(err).Int("consecutiveFailures", failures).
					Msg("evidence store probe failed")
				if failures >= w.settings.MaxFailures {
					return fmt.Errorf("%w: %d consecutive probe failures", ErrStoreUnhealthy, failures)
				}
				continue
			}
			failures = 0
		}
	}
}

func (w *Watchdog) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.settings.ProbeTimeout)
	defer cancel()
	return w.store.Ping(probeCtx)
}
