// Package evidence provides the short-TTL keyed store the engine uses for
// challenges, per-identity history and per-response analyses.
package evidence

import (
	"context"
	"fmt"
	"time"
)

// StoreError is a typed error for store-related errors.
type StoreError string

func (e StoreError) Error() string { return string(e) }

const (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = StoreError("key not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	// Callers degrade by treating missing history as "no prior data"; the
	// challenge lookup is the one read that must not degrade.
	ErrUnavailable = StoreError("evidence store unavailable")
)

// Store is short-TTL keyed storage with expiry and set operations.
// All operations honour the context deadline.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// PutWithTTL writes value at key, expiring after ttl.
	PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent writes value only if key does not exist. Returns true if
	// the write won; false means another writer committed first.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Del removes key.
	Del(ctx context.Context, key string) error
	// AddSetMember appends member to the set at key and refreshes its ttl.
	AddSetMember(ctx context.Context, key, member string, ttl time.Duration) error
	// SetMembers returns all members of the set at key; empty if absent.
	SetMembers(ctx context.Context, key string) ([]string, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the store handle.
	Close() error
}

// Key scheme. Stable and part of the contract: reports and operators read
// these keys directly.

// ChallengeKey is the key for the active challenge of a session.
func ChallengeKey(sessionID string) string {
	return "challenge:" + sessionID
}

// AnalysisKey is the key for a single per-response analysis.
func AnalysisKey(participantID string, timestampMs int64) string {
	return fmt.Sprintf("analysis:%s:%d", participantID, timestampMs)
}

// SessionAnalysesKey is the set of analysis keys written for a session.
// Reports read this index instead of scanning the keyspace.
func SessionAnalysesKey(sessionID string) string {
	return "analyses:by-session:" + sessionID
}

// LastLocationKey is the key for a participant's last observed location.
func LastLocationKey(participantID string) string {
	return "location:" + participantID + ":last"
}

// DeviceUsageKey is the set of participant IDs that ever signed with a device.
func DeviceUsageKey(deviceID string) string {
	return "device:" + deviceID + ":usage"
}

// BehaviorKey is the key for a participant's behavioral baseline.
func BehaviorKey(participantID string) string {
	return "behavior:" + participantID + ":pattern"
}

// AttendanceKey is the key for the canonical attendance record of a
// (session, participant) pair. Commits use PutIfAbsent against it.
func AttendanceKey(sessionID, participantID string) string {
	return fmt.Sprintf("attendance:%s:%s", sessionID, participantID)
}

// RecordKey maps a record ID to its attendance key, for overrides.
func RecordKey(recordID string) string {
	return "record:" + recordID
}
