package engine

import (
	"fmt"
	"time"
)

// Error is a typed error for engine-related errors.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrConfiguration is returned from New when the configuration is
	// unusable. It is the only fatal error the engine raises.
	ErrConfiguration = Error("configuration error")
	// ErrRecordNotFound is returned by ApplyOverride for an unknown record.
	ErrRecordNotFound = Error("attendance record not found")
	// ErrOverrideUnauthorised is returned by ApplyOverride when the actor
	// fails the external authorisation predicate.
	ErrOverrideUnauthorised = Error("override unauthorised")
	// ErrInvalidOutcome is returned by ApplyOverride for outcomes other than
	// present or rejected.
	ErrInvalidOutcome = Error("invalid override outcome")
	// ErrRecordNotFlagged is returned by ApplyOverride when the record is not
	// in the flagged state. Present and rejected verdicts are final.
	ErrRecordNotFlagged = Error("record is not flagged")
)

// Config captures every tunable of the engine in one value. Zero fields are
// filled with spec defaults by New; Validate rejects unusable combinations.
type Config struct {
	// Secret is the shared MAC secret. Required; never logged.
	Secret []byte

	ChallengeValidity time.Duration
	ChallengeCodeSize int
	NonceSize         int

	RSSIWeakThreshold   int
	RSSIMediumThreshold int

	ResponseSuspiciousFast time.Duration
	ResponseMinHuman       time.Duration
	ResponseMaxReasonable  time.Duration

	LocationJumpDistanceM   float64
	LocationMinMovementTime time.Duration

	WifiMinExpected   int
	WifiMaxReasonable int
	WifiBlacklist     []string

	AttestationBlacklist []string

	BehavioralAlpha float64
	AnalysisTTL     time.Duration
	LocationTTL     time.Duration
	DeviceUsageTTL  time.Duration

	// VerifyConcurrency bounds the number of responses in flight.
	VerifyConcurrency int64

	// OverrideAuthorizer gates ApplyOverride. Nil denies every override.
	OverrideAuthorizer func(actorID string) bool

	// Now is the injected time source; defaults to time.Now.
	Now func() time.Time
}

// DefaultWifiBlacklist are SSID substrings that indicate simulated wireless
// environments. Matching is case-insensitive substring.
var DefaultWifiBlacklist = []string{
	"MOCK_WIFI", "TEST_AP", "FAKE_NETWORK", "EMULATOR_WIFI",
	"SIMULATOR_AP", "DEBUG_WIFI", "PROXY_NETWORK",
}

// DefaultAttestationBlacklist are attestation tokens that mark a compromised
// or simulated device.
var DefaultAttestationBlacklist = []string{"rooted", "jailbroken", "emulator"}

func (c *Config) applyDefaults() {
	if c.ChallengeValidity == 0 {
		c.ChallengeValidity = 15 * time.Second
	}
	if c.ChallengeCodeSize == 0 {
		c.ChallengeCodeSize = 32
	}
	if c.NonceSize == 0 {
		c.NonceSize = 16
	}
	if c.RSSIWeakThreshold == 0 {
		c.RSSIWeakThreshold = -70
	}
	if c.RSSIMediumThreshold == 0 {
		c.RSSIMediumThreshold = -50
	}
	if c.ResponseSuspiciousFast == 0 {
		c.ResponseSuspiciousFast = 200 * time.Millisecond
	}
	if c.ResponseMinHuman == 0 {
		c.ResponseMinHuman = 500 * time.Millisecond
	}
	if c.ResponseMaxReasonable == 0 {
		c.ResponseMaxReasonable = 10 * time.Second
	}
	if c.LocationJumpDistanceM == 0 {
		c.LocationJumpDistanceM = 1000
	}
	if c.LocationMinMovementTime == 0 {
		c.LocationMinMovementTime = 30 * time.Second
	}
	if c.WifiMinExpected == 0 {
		c.WifiMinExpected = 1
	}
	if c.WifiMaxReasonable == 0 {
		c.WifiMaxReasonable = 20
	}
	if c.WifiBlacklist == nil {
		c.WifiBlacklist = DefaultWifiBlacklist
	}
	if c.AttestationBlacklist == nil {
		c.AttestationBlacklist = DefaultAttestationBlacklist
	}
	if c.BehavioralAlpha == 0 {
		c.BehavioralAlpha = 0.2
	}
	if c.AnalysisTTL == 0 {
		c.AnalysisTTL = 7 * 24 * time.Hour
	}
	if c.LocationTTL == 0 {
		c.LocationTTL = time.Hour
	}
	if c.DeviceUsageTTL == 0 {
		c.DeviceUsageTTL = 7 * 24 * time.Hour
	}
	if c.VerifyConcurrency == 0 {
		c.VerifyConcurrency = 64
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c *Config) validate() error {
	if len(c.Secret) == 0 {
		return fmt.Errorf("%w: secret is required", ErrConfiguration)
	}
	if c.ChallengeCodeSize < 32 {
		return fmt.Errorf("%w: challenge code must be at least 32 bytes", ErrConfiguration)
	}
	if c.NonceSize < 16 {
		return fmt.Errorf("%w: nonce must be at least 16 bytes", ErrConfiguration)
	}
	if c.RSSIWeakThreshold >= c.RSSIMediumThreshold {
		return fmt.Errorf("%w: weak RSSI threshold must be below medium", ErrConfiguration)
	}
	if c.BehavioralAlpha <= 0 || c.BehavioralAlpha >= 1 {
		return fmt.Errorf("%w: behavioral alpha must be in (0,1)", ErrConfiguration)
	}
	if c.WifiMinExpected > c.WifiMaxReasonable {
		return fmt.Errorf("%w: wifi min expected exceeds max reasonable", ErrConfiguration)
	}
	if c.VerifyConcurrency < 1 {
		return fmt.Errorf("%w: verify concurrency must be positive", ErrConfiguration)
	}
	return nil
}
