// Package fakekeys tops up published batches with decoy keys so that batch
// size does not reveal the true number of submissions.
package fakekeys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

// Padder generates decoy keys for undersized publication batches.
type Padder struct {
	minKeys int
}

// NewPadder constructs a Padder that fills batches up to minKeys entries.
func NewPadder(minKeys int) *Padder { return &Padder{minKeys: minKeys} }

// FillUpKeys pads an initial batch up to the configured minimum. Incremental
// requests (publishedAfter set) are returned unchanged: the client already
// holds the day's baseline batch. The result is re-sorted by key data so
// decoys are not positionally distinguishable from real keys.
func (p *Padder) FillUpKeys(keys []model.GaenKey, publishedAfter *int64, keyDate int64) ([]model.GaenKey, error) {
	if publishedAfter != nil {
		return keys, nil
	}
	missing := p.minKeys - len(keys)
	if missing <= 0 {
		return keys, nil
	}

	startNumber := keyDate / model.IntervalLength.Milliseconds()
	for i := 0; i < missing; i++ {
		buf := make([]byte, model.KeyLength)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate decoy key: %w", err)
		}
		keys = append(keys, model.GaenKey{
			KeyData:            base64.StdEncoding.EncodeToString(buf),
			RollingStartNumber: startNumber,
			RollingPeriod:      model.DefaultRollingPeriod,
		})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].KeyData < keys[j].KeyData })
	return keys, nil
}
