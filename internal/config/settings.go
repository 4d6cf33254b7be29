// Package config loads service settings from a yaml file with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/attendly/presence-engine/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Settings contains the application config.
type Settings struct {
	Environment string `yaml:"ENVIRONMENT"`
	LogLevel    string `yaml:"LOG_LEVEL"`
	Port        int    `yaml:"PORT"`
	MonPort     int    `yaml:"MON_PORT"`

	// RedisURL selects the Redis evidence store; empty runs in-memory.
	RedisURL string `yaml:"REDIS_URL"`

	// Secret is the shared MAC secret. Usually supplied via the
	// PRESENCE_SECRET environment variable rather than the settings file.
	Secret string `yaml:"SECRET"`

	ChallengeValidityMs       int64    `yaml:"CHALLENGE_VALIDITY_MS"`
	RSSIWeakThreshold         int      `yaml:"RSSI_WEAK_THRESHOLD"`
	RSSIMediumThreshold       int      `yaml:"RSSI_MEDIUM_THRESHOLD"`
	ResponseSuspiciousFastMs  int64    `yaml:"RESPONSE_SUSPICIOUS_FAST_MS"`
	ResponseMinHumanMs        int64    `yaml:"RESPONSE_MIN_HUMAN_MS"`
	ResponseMaxReasonableMs   int64    `yaml:"RESPONSE_MAX_REASONABLE_MS"`
	LocationJumpDistanceM     float64  `yaml:"LOCATION_JUMP_DISTANCE_M"`
	LocationMinMovementTimeMs int64    `yaml:"LOCATION_MIN_MOVEMENT_TIME_MS"`
	WifiMinExpected           int      `yaml:"WIFI_MIN_EXPECTED"`
	WifiMaxReasonable         int      `yaml:"WIFI_MAX_REASONABLE"`
	WifiBlacklist             []string `yaml:"WIFI_BLACKLIST"`
	AttestationBlacklist      []string `yaml:"ATTESTATION_BLACKLIST"`
	BehavioralAlpha           float64  `yaml:"BEHAVIORAL_ALPHA"`
	AnalysisTTLSec            int64    `yaml:"ANALYSIS_TTL_SEC"`
	LocationTTLSec            int64    `yaml:"LOCATION_TTL_SEC"`
	VerifyConcurrency         int64    `yaml:"VERIFY_CONCURRENCY"`

	// OverrideActors is the list of actor IDs authorised to override
	// flagged records.
	OverrideActors []string `yaml:"OVERRIDE_ACTORS"`
}

// Load reads settings from path (if it exists) and applies environment
// overrides. Every yaml key doubles as a PRESENCE_-prefixed env var.
func Load(path string) (*Settings, error) {
	settings := &Settings{
		LogLevel: "info",
		Port:     8080,
		MonPort:  8888,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	applyEnv(settings)
	return settings, nil
}

func applyEnv(s *Settings) {
	envString("PRESENCE_ENVIRONMENT", &s.Environment)
	envString("PRESENCE_LOG_LEVEL", &s.LogLevel)
	envInt("PRESENCE_PORT", &s.Port)
	envInt("PRESENCE_MON_PORT", &s.MonPort)
	envString("PRESENCE_REDIS_URL", &s.RedisURL)
	envString("PRESENCE_SECRET", &s.Secret)
	envInt64("PRESENCE_CHALLENGE_VALIDITY_MS", &s.ChallengeValidityMs)
	envInt64("PRESENCE_VERIFY_CONCURRENCY", &s.VerifyConcurrency)
	if v := os.Getenv("PRESENCE_OVERRIDE_ACTORS"); v != "" {
		s.OverrideActors = strings.Split(v, ",")
	}
}

func envString(name string, target *string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func envInt(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func envInt64(name string, target *int64) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}

// EngineConfig maps the settings onto an engine configuration. Zero-valued
// settings fall through to the engine defaults.
func (s *Settings) EngineConfig() engine.Config {
	authorised := make(map[string]struct{}, len(s.OverrideActors))
	for _, actor := range s.OverrideActors {
		authorised[strings.TrimSpace(actor)] = struct{}{}
	}

	return engine.Config{
		Secret:                  []byte(s.Secret),
		ChallengeValidity:       time.Duration(s.ChallengeValidityMs) * time.Millisecond,
		RSSIWeakThreshold:       s.RSSIWeakThreshold,
		RSSIMediumThreshold:     s.RSSIMediumThreshold,
		ResponseSuspiciousFast:  time.Duration(s.ResponseSuspiciousFastMs) * time.Millisecond,
		ResponseMinHuman:        time.Duration(s.ResponseMinHumanMs) * time.Millisecond,
		ResponseMaxReasonable:   time.Duration(s.ResponseMaxReasonableMs) * time.Millisecond,
		LocationJumpDistanceM:   s.LocationJumpDistanceM,
		LocationMinMovementTime: time.Duration(s.LocationMinMovementTimeMs) * time.Millisecond,
		WifiMinExpected:         s.WifiMinExpected,
		WifiMaxReasonable:       s.WifiMaxReasonable,
		WifiBlacklist:           s.WifiBlacklist,
		AttestationBlacklist:    s.AttestationBlacklist,
		BehavioralAlpha:         s.BehavioralAlpha,
		AnalysisTTL:             time.Duration(s.AnalysisTTLSec) * time.Second,
		LocationTTL:             time.Duration(s.LocationTTLSec) * time.Second,
		VerifyConcurrency:       s.VerifyConcurrency,
		OverrideAuthorizer: func(actorID string) bool {
			_, ok := authorised[actorID]
			return ok
		},
	}
}
