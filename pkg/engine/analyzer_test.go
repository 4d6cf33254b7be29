package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/attendly/presence-engine/pkg/engine"
	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/stretchr/testify/require"
)

// verifyWith runs one response through the engine with the given evidence and
// returns the record. Latency is 4.2s with the clock 800ms behind "now" so
// the timing analysis stays quiet unless a test wants otherwise.
func verifyWith(t *testing.T, env *testEnv, sessionID, participantID, deviceID string, ev *engine.Evidence) *engine.AttendanceRecord {
	t.Helper()
	blob, _ := issueAndRespond(t, env, sessionID, participantID, deviceID, 4200*time.Millisecond)
	env.clock.Advance(5 * time.Second)
	record, err := env.eng.VerifyResponse(context.Background(), blob, ev)
	require.NoError(t, err)
	return record
}

func TestSignalClassBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		rssi     int
		weakFlag bool
	}{
		{"weak threshold inclusive", -70, true},
		{"well below weak", -82, true},
		{"just above weak", -69, false},
		{"medium boundary", -50, false},
		{"strong", -49, false},
		{"very strong", -45, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			ev := benignEvidence()
			ev.RSSI = tc.rssi
			record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
			require.Equal(t, tc.weakFlag, record.Flags.WeakSignal)
			if tc.weakFlag {
				require.Equal(t, engine.OutcomeFlagged, record.Outcome)
			} else {
				require.Equal(t, engine.OutcomePresent, record.Outcome)
			}
		})
	}
}

func TestWeakSignalRiskScore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ev := benignEvidence()
	ev.RSSI = -82

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.True(t, record.Flags.WeakSignal)
	// 0.20 of a 2.25 total weight, rounded.
	require.Equal(t, 9, record.RiskScore)
}

func TestWifiCountBoundaries(t *testing.T) {
	t.Parallel()

	ssids := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "campus-ap-" + string(rune('a'+i%26))
		}
		return out
	}

	cases := []struct {
		name       string
		count      int
		suspicious bool
	}{
		{"zero networks", 0, true},
		{"one network", 1, false},
		{"twenty networks", 20, false},
		{"twenty one networks", 21, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			ev := benignEvidence()
			ev.WifiNetworks = ssids(tc.count)
			record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
			require.Equal(t, tc.suspicious, record.Flags.SuspiciousWifi)
		})
	}
}

func TestWifiBlacklistSubstringMatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ev := benignEvidence()
	// Case-insensitive substring: an SSID embedding a banned token flags.
	ev.WifiNetworks = []string{"eduroam", "guest-mock_wifi-2"}

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.True(t, record.Flags.SuspiciousWifi)
	require.Equal(t, engine.OutcomeFlagged, record.Outcome)
}

func TestLocationAccuracyBoundary(t *testing.T) {
	t.Parallel()

	t.Run("accuracy 1.0 is not mocked", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ev := benignEvidence()
		ev.Location.Accuracy = 1.0
		record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
		require.False(t, record.Flags.MockedLocation)
	})

	t.Run("accuracy 0.9 is mocked", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ev := benignEvidence()
		ev.Location.Accuracy = 0.9
		record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
		require.True(t, record.Flags.MockedLocation)
		require.Equal(t, engine.OutcomeFlagged, record.Outcome)
	})
}

func TestNullIslandLocation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ev := benignEvidence()
	ev.Location = &engine.Location{Latitude: 0, Longitude: 0, Accuracy: 8}

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.True(t, record.Flags.InvalidLocation)
}

func TestLocationJump(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Prior location ~1.5km away, observed 10s before the response.
	nowMs := env.clock.Now().UnixMilli()
	last := engine.Location{
		Latitude:  40.7433,
		Longitude: -74.0324,
		Accuracy:  10,
		Timestamp: nowMs - 10_000,
	}
	encoded, err := json.Marshal(last)
	require.NoError(t, err)
	require.NoError(t, env.store.PutWithTTL(context.Background(),
		evidence.LastLocationKey("p1"), encoded, time.Hour))

	ev := benignEvidence()
	ev.RSSI = -82
	ev.Location = &engine.Location{
		Latitude:  40.7568, // ~1.5km north
		Longitude: -74.0324,
		Accuracy:  8,
		Timestamp: nowMs,
	}

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.True(t, record.Flags.WeakSignal)
	require.True(t, record.Flags.InvalidLocation)
	require.Equal(t, engine.OutcomeFlagged, record.Outcome)
	// round(100 * (0.20 + 0.25) / 2.25)
	require.Equal(t, 20, record.RiskScore)
}

func TestSlowMovementDoesNotFlag(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Same jump distance, but observed an hour apart: plausible travel.
	nowMs := env.clock.Now().UnixMilli()
	last := engine.Location{
		Latitude:  40.7433,
		Longitude: -74.0324,
		Accuracy:  10,
		Timestamp: nowMs - time.Hour.Milliseconds(),
	}
	encoded, err := json.Marshal(last)
	require.NoError(t, err)
	require.NoError(t, env.store.PutWithTTL(context.Background(),
		evidence.LastLocationKey("p1"), encoded, time.Hour))

	ev := benignEvidence()
	ev.Location = &engine.Location{
		Latitude:  40.7568,
		Longitude: -74.0324,
		Accuracy:  8,
		Timestamp: nowMs,
	}

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.False(t, record.Flags.InvalidLocation)
	require.Equal(t, engine.OutcomePresent, record.Outcome)
}

func TestFutureLocationTimestamp(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	ev := benignEvidence()
	ev.Location.Timestamp = env.clock.Now().Add(time.Minute).UnixMilli()

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.True(t, record.Flags.InvalidLocation)
}

func TestDuplicateDevice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Device previously used by p1 within the usage TTL.
	require.NoError(t, env.store.AddSetMember(context.Background(),
		evidence.DeviceUsageKey("device-shared"), "p1", time.Hour))

	record := verifyWith(t, env, "session-1", "p2", "device-shared", benignEvidence())
	require.True(t, record.Flags.DuplicateDevice)
	require.Equal(t, engine.OutcomeFlagged, record.Outcome)
}

func TestSameParticipantSameDeviceIsClean(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	require.NoError(t, env.store.AddSetMember(context.Background(),
		evidence.DeviceUsageKey("device-1"), "p1", time.Hour))

	record := verifyWith(t, env, "session-1", "p1", "device-1", benignEvidence())
	require.False(t, record.Flags.DuplicateDevice)
}

func TestRootedDeviceAttestation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	ev := benignEvidence()
	ev.Location.Accuracy = 0.5
	ev.DeviceAttestation = []string{"rooted"}

	record := verifyWith(t, env, "session-1", "p1", "device-1", ev)
	require.True(t, record.Flags.MockedLocation)
	require.True(t, record.Flags.RootedDevice)
	require.Equal(t, engine.OutcomeFlagged, record.Outcome)
	require.LessOrEqual(t, record.RiskScore, 100)
	// round(100 * (0.30 + 0.35) / 2.25)
	require.Equal(t, 29, record.RiskScore)
}

func TestBehavioralDeviation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// First response establishes a ~1s baseline.
	blob, _ := issueAndRespond(t, env, "session-a", "p1", "device-1", time.Second)
	env.clock.Advance(1500 * time.Millisecond)
	first, err := env.eng.VerifyResponse(context.Background(), blob, benignEvidence())
	require.NoError(t, err)
	require.False(t, first.Flags.UnusualPattern)

	// Second response is five times slower than the baseline.
	blob, _ = issueAndRespond(t, env, "session-b", "p1", "device-1", 5*time.Second)
	env.clock.Advance(5500 * time.Millisecond)
	second, err := env.eng.VerifyResponse(context.Background(), blob, benignEvidence())
	require.NoError(t, err)
	require.True(t, second.Flags.UnusualPattern)
}

func TestHistoryLookupFailsOpen(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Poison the stored baseline so it cannot decode; analysis proceeds as
	// if there were no prior data.
	require.NoError(t, env.store.PutWithTTL(context.Background(),
		evidence.BehaviorKey("p1"), []byte("not-json"), time.Hour))

	record := verifyWith(t, env, "session-1", "p1", "device-1", benignEvidence())
	require.Equal(t, engine.OutcomePresent, record.Outcome)
	require.False(t, record.Flags.UnusualPattern)
}
