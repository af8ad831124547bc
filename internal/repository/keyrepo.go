// Package repository declares the storage contracts consumed by the service layer.
package repository

import (
	"context"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

// KeyRepository provides durable storage for diagnosis keys.
type KeyRepository interface {
	// UpsertKeys stores a batch of keys atomically. Resubmitting a key with
	// identical key data must not duplicate it in later publications.
	UpsertKeys(ctx context.Context, keys []model.GaenKey) error

	// GetSortedKeysForDate returns the keys whose rolling start falls within
	// the day starting at keyDate (epoch milliseconds), restricted to keys
	// published in (publishedAfter, publishedUntil], ordered by key data.
	// A nil publishedAfter means no lower watermark.
	GetSortedKeysForDate(ctx context.Context, keyDate int64, publishedAfter *int64, publishedUntil int64) ([]model.GaenKey, error)
}
