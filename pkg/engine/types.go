// Package engine implements the presence verification engine: challenge
// issuance, signed-response verification, anti-proxy analysis and attendance
// verdicts. It is library-shaped; HTTP handlers, CLIs and tests are callers.
package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Outcome is the compositor's verdict on a response.
type Outcome string

const (
	OutcomePresent  Outcome = "present"
	OutcomeFlagged  Outcome = "flagged"
	OutcomeRejected Outcome = "rejected"
)

// Blob is a byte string that travels as URL-safe base64 text on the wire.
// The default []byte codec uses the standard alphabet, which existing clients
// do not speak.
type Blob []byte

// MarshalJSON implements json.Marshaler.
func (b Blob) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.URLEncoding.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler. Padded and unpadded input are
// both accepted; clients may strip padding.
func (b *Blob) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode blob: %w", err)
	}
	decoded, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("decode blob: %w", err)
		}
	}
	*b = decoded
	return nil
}

// StructuralStatus is the verifier's pre-analyzer judgement.
type StructuralStatus string

const (
	StructuralOK      StructuralStatus = "ok"
	StructuralExpired StructuralStatus = "expired"
	StructuralFail    StructuralStatus = "fail"
)

// Challenge is a server-minted, time-bounded secret a participant's signed
// response must echo exactly. Immutable once issued.
type Challenge struct {
	SessionID     string `json:"sessionId"`
	ChallengeCode Blob   `json:"challengeCode"`
	Nonce         Blob   `json:"nonce"`
	IssuedAt      int64  `json:"issuedAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	OrganiserID   string `json:"organiserId"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResponsePayload is the authenticated inner payload of a signed response.
// Wire names are fixed for interoperability with existing clients; the
// participant field travels as "studentId".
type ResponsePayload struct {
	ChallengeCode  Blob            `json:"challengeCode"`
	Nonce          Blob            `json:"nonce"`
	ParticipantID  string          `json:"studentId"`
	DeviceID       string          `json:"deviceId"`
	SessionID      string          `json:"sessionId"`
	RespondedAt    int64           `json:"timestamp"`
	AdditionalData json.RawMessage `json:"additionalData,omitempty"`
}

// Location is a coarse client-reported position.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// Evidence is the unauthenticated bundle submitted alongside a signed
// response: radio, location, wireless environment and device attestation.
type Evidence struct {
	RSSI              int               `json:"rssi"`
	Location          *Location         `json:"location,omitempty"`
	WifiNetworks      []string          `json:"wifiNetworks,omitempty"`
	DeviceAttestation []string          `json:"deviceAttestation,omitempty"`
	SessionMeta       map[string]string `json:"organiserSessionMeta,omitempty"`
}

// SignalClass classifies radio signal strength.
type SignalClass string

const (
	SignalWeak   SignalClass = "weak"
	SignalMedium SignalClass = "medium"
	SignalStrong SignalClass = "strong"
)

// ProximityFacts is computed from RSSI and reported for observability; it is
// not stored and the distance estimate never drives a flag.
type ProximityFacts struct {
	SignalClass       SignalClass `json:"signalClass"`
	EstimatedDistance float64     `json:"estimatedDistanceM"`
}

// Flags is the closed set of anti-proxy flags. Details carries per-flag
// diagnostics and is never branched on.
type Flags struct {
	WeakSignal       bool `json:"weakSignal"`
	DuplicateDevice  bool `json:"duplicateDevice"`
	InvalidLocation  bool `json:"invalidLocation"`
	SuspiciousWifi   bool `json:"suspiciousWifi"`
	LateResponse     bool `json:"lateResponse"`
	InvalidChallenge bool `json:"invalidChallenge"`
	RootedDevice     bool `json:"rootedDevice"`
	MockedLocation   bool `json:"mockedLocation"`
	UnusualPattern   bool `json:"unusualPattern"`

	Details map[string]any `json:"details,omitempty"`
}

// Any reports whether any flag tripped.
func (f Flags) Any() bool {
	return f.WeakSignal || f.DuplicateDevice || f.InvalidLocation ||
		f.SuspiciousWifi || f.LateResponse || f.InvalidChallenge ||
		f.RootedDevice || f.MockedLocation || f.UnusualPattern
}

// Tripped returns the names of tripped flags.
func (f Flags) Tripped() []string {
	names := make([]string, 0, 4)
	for _, entry := range []struct {
		name string
		set  bool
	}{
		{"weakSignal", f.WeakSignal},
		{"duplicateDevice", f.DuplicateDevice},
		{"invalidLocation", f.InvalidLocation},
		{"suspiciousWifi", f.SuspiciousWifi},
		{"lateResponse", f.LateResponse},
		{"invalidChallenge", f.InvalidChallenge},
		{"rootedDevice", f.RootedDevice},
		{"mockedLocation", f.MockedLocation},
		{"unusualPattern", f.UnusualPattern},
	} {
		if entry.set {
			names = append(names, entry.name)
		}
	}
	return names
}

// RiskBand classifies a risk score.
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// BandForScore maps a risk score to its band.
func BandForScore(score int) RiskBand {
	switch {
	case score < 30:
		return RiskLow
	case score < 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// EvidenceSummary is the echoed evidence persisted with each analysis.
// Raw coordinates are summarised, not stored, alongside the analysis.
type EvidenceSummary struct {
	RSSI              int         `json:"rssi"`
	SignalClass       SignalClass `json:"signalClass"`
	EstimatedDistance float64     `json:"estimatedDistanceM"`
	ResponseLatencyMs int64       `json:"responseLatencyMs"`
	WifiNetworkCount  int         `json:"wifiNetworkCount"`
	HasLocation       bool        `json:"hasLocation"`
	LocationAccuracy  float64     `json:"locationAccuracy,omitempty"`
	Attestation       []string    `json:"attestation,omitempty"`
}

// Analysis is the persisted anti-proxy result for one response.
type Analysis struct {
	AnalysisID    string          `json:"analysisId"`
	ParticipantID string          `json:"participantId"`
	SessionID     string          `json:"sessionId"`
	Timestamp     int64           `json:"timestamp"`
	Flags         Flags           `json:"flags"`
	RiskScore     int             `json:"riskScore"`
	Evidence      EvidenceSummary `json:"evidence"`
}

// DeviceUsage tracks which participants have signed with a device.
type DeviceUsage struct {
	DeviceID     string   `json:"deviceId"`
	Participants []string `json:"participants"`
}

// BehavioralBaseline is a rolling latency profile per participant, updated
// with an exponentially weighted moving average rather than unbounded history.
type BehavioralBaseline struct {
	MeanLatencyMs     float64 `json:"meanLatencyMs"`
	VarianceLatencyMs float64 `json:"varianceLatencyMs"`
	Samples           int64   `json:"samples"`
	UpdatedAt         int64   `json:"updatedAt"`
}

// Override is an external authorised decision applied to a flagged record.
type Override struct {
	ActorID   string  `json:"actorId"`
	Reason    string  `json:"reason"`
	Outcome   Outcome `json:"outcome"`
	AppliedAt int64   `json:"appliedAt"`
}

// AttendanceRecord is the committed verdict for a (session, participant)
// pair. It is what the engine hands to the durable store and to callers.
type AttendanceRecord struct {
	RecordID      string           `json:"recordId"`
	SessionID     string           `json:"sessionId"`
	ParticipantID string           `json:"participantId"`
	DeviceID      string           `json:"deviceId"`
	Outcome       Outcome          `json:"outcome"`
	RiskScore     int              `json:"riskScore"`
	Flags         Flags            `json:"flags"`
	Timestamp     int64            `json:"timestamp"`
	AnalysisID    string           `json:"analysisId"`
	Structural    StructuralStatus `json:"structuralVerdict"`
	Reason        string           `json:"reason,omitempty"`
	Duplicate     bool             `json:"duplicate,omitempty"`
	Override      *Override        `json:"override,omitempty"`
}

// SessionReport aggregates the analyses of one session.
type SessionReport struct {
	SessionID        string           `json:"sessionId"`
	TotalResponses   int              `json:"totalResponses"`
	FlaggedResponses int              `json:"flaggedResponses"`
	RiskDistribution RiskDistribution `json:"riskDistribution"`
	FlagTypeCounts   map[string]int   `json:"flagTypeCounts"`
	Recommendations  []string         `json:"recommendations"`
}

// RiskDistribution counts analyses per risk band.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// StructuralVerdict is the verifier's output: the cryptographic and timing
// judgement plus the trusted identity fields from the authenticated payload.
type StructuralVerdict struct {
	Status            StructuralStatus
	Reason            string
	ResponseLatencyMs int64
	ParticipantID     string
	DeviceID          string
	SessionID         string
	RespondedAt       int64
	Challenge         *Challenge
}

// riskWeights are the fixed per-flag weights. The denominator of the risk
// score is the sum of all weights, triggered or not (source behaviour,
// preserved deliberately).
var riskWeights = map[string]float64{
	"weakSignal":       0.20,
	"duplicateDevice":  0.30,
	"invalidLocation":  0.25,
	"suspiciousWifi":   0.15,
	"lateResponse":     0.10,
	"invalidChallenge": 0.40,
	"rootedDevice":     0.35,
	"mockedLocation":   0.30,
	"unusualPattern":   0.20,
}

func totalRiskWeight() float64 {
	var total float64
	for _, w := range riskWeights {
		total += w
	}
	return total
}
