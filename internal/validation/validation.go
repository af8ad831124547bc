// Package validation holds the syntactic and range checks applied to
// submitted keys, key dates and publication watermarks.
package validation

import (
	"encoding/base64"
	"time"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

// Validator bundles the pure checks of the submission and publication
// pipelines. Retention and bucket length are fixed for the process lifetime.
type Validator struct {
	retention    time.Duration
	bucketLength time.Duration

	now func() time.Time
}

// New constructs a Validator for the given retention window and bucket length.
func New(retention, bucketLength time.Duration) *Validator {
	return &Validator{retention: retention, bucketLength: bucketLength, now: time.Now}
}

// IsValidBase64Key reports whether data decodes to exactly KeyLength bytes.
func (v *Validator) IsValidBase64Key(data string) bool {
	b, err := base64.StdEncoding.DecodeString(data)
	return err == nil && len(b) == model.KeyLength
}

// IsDateInRange reports whether t lies inside the served window: newer than
// now minus retention and before the end of the lookahead day.
func (v *Validator) IsDateInRange(t time.Time) bool {
	now := v.now().UTC()
	return t.After(now.Add(-v.retention)) && t.Before(now.Add(24*time.Hour))
}

// IsValidKeyDate reports whether the epoch-millisecond key date is inside
// the served window.
func (v *Validator) IsValidKeyDate(keyDateMillis int64) bool {
	return v.IsDateInRange(time.UnixMilli(keyDateMillis).UTC())
}

// IsValidBatchReleaseTime reports whether a publication watermark is aligned
// to the bucket grid and inside the served window. Watermarks off the grid
// would observe unstable batches and defeat intermediary caching.
func (v *Validator) IsValidBatchReleaseTime(ms int64) bool {
	if ms%v.bucketLength.Milliseconds() != 0 {
		return false
	}
	return v.IsDateInRange(time.UnixMilli(ms).UTC())
}
