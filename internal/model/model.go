// Package model defines domain entities shared by handlers, services and repositories.
package model

import "time"

const (
	// KeyLength is the decoded size of a temporary exposure key in bytes.
	KeyLength = 16

	// DefaultRollingPeriod is one full day expressed in 10-minute intervals.
	DefaultRollingPeriod = 144

	// IntervalLength is the duration of a single rolling interval.
	IntervalLength = 10 * time.Minute
)

// GaenKey is a client-generated rolling proximity key. KeyData is opaque to
// the backend beyond base64/length validity. A key is immutable once accepted.
type GaenKey struct {
	KeyData               string `json:"keyData"`
	RollingStartNumber    int64  `json:"rollingStartNumber"`
	RollingPeriod         int32  `json:"rollingPeriod"`
	TransmissionRiskLevel int32  `json:"transmissionRiskLevel"`
	Fake                  int32  `json:"fake"` // 1 marks a client-inserted decoy
}

// GaenRequest is the day-1 submission: the keys of the past days plus the
// 10-minute interval number of the key the client will finalize tomorrow.
type GaenRequest struct {
	GaenKeys       []GaenKey `json:"gaenKeys"`
	DelayedKeyDate int64     `json:"delayedKeyDate"`
}

// GaenSecondDay is the day-2 finalization carrying exactly one key.
type GaenSecondDay struct {
	DelayedKey GaenKey `json:"delayedKey"`
}

// AuthClaims is the bearer principal resolved once at the HTTP boundary.
// DelayedKeyDate is only present on tokens issued after a day-1 submission
// and binds the principal to the single key date it may finalize.
type AuthClaims struct {
	Subject        string
	Fake           bool
	DelayedKeyDate *int64 // 10-minute interval number
}

// KeyBatch is a publication batch together with its cache-coordination data.
// PublishedUntil is always a multiple of the bucket length.
type KeyBatch struct {
	Keys           []GaenKey
	PublishedUntil int64 // epoch milliseconds
	Expires        time.Time
}

// SignedBatch is the binary publication payload. Zip is nil when the batch
// is empty and the endpoint answers 204.
type SignedBatch struct {
	Zip            []byte
	PublishedUntil int64 // epoch milliseconds
	Expires        time.Time
}

// DayBuckets lists the retrievable sub-windows of a calendar day.
type DayBuckets struct {
	Day          string   `json:"day"`
	RelativeURLs []string `json:"relativeUrls"`
	DayTimestamp int64    `json:"dayTimestamp"`
}

// ExposedJSON is the plain projection served by the JSON publication variant.
type ExposedJSON struct {
	GaenKeys []GaenKey `json:"gaenKeys"`
}

// TimeOfInterval converts a 10-minute interval number to its UTC start time.
func TimeOfInterval(interval int64) time.Time {
	return time.Unix(interval*int64(IntervalLength/time.Second), 0).UTC()
}

// DayOf truncates a timestamp to the start of its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
