package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

// KeyRepo implements repository.KeyRepository on PostgreSQL.
type KeyRepo struct{ db *DB }

// NewKeyRepo constructs a diagnosis key repository.
func NewKeyRepo(db *DB) *KeyRepo { return &KeyRepo{db: db} }

const insertKey = `
INSERT INTO gaen_exposed (key_data, rolling_start_number, rolling_period, transmission_risk_level, received_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (key_data) DO NOTHING`

// UpsertKeys stores a batch of keys in one transaction. Duplicate key data is
// ignored so a resubmitted key never shows up twice in a publication.
func (r *KeyRepo) UpsertKeys(ctx context.Context, keys []model.GaenKey) (err error) {
	if len(keys) == 0 {
		return nil
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	receivedAt := time.Now().UnixMilli()
	for i := range keys {
		k := &keys[i]
		if _, err = tx.Exec(ctx, insertKey,
			k.KeyData, k.RollingStartNumber, k.RollingPeriod, k.TransmissionRiskLevel, receivedAt,
		); err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
	}
	return nil
}

const selectForDate = `
SELECT key_data, rolling_start_number, rolling_period, transmission_risk_level
FROM gaen_exposed
WHERE rolling_start_number >= $1 AND rolling_start_number < $2
  AND received_at > $3 AND received_at <= $4
ORDER BY key_data`

// GetSortedKeysForDate returns the keys of the 24h window starting at keyDate,
// restricted to (publishedAfter, publishedUntil] in publish time and ordered
// by key data for deterministic batches.
func (r *KeyRepo) GetSortedKeysForDate(
	ctx context.Context, keyDate int64, publishedAfter *int64, publishedUntil int64,
) ([]model.GaenKey, error) {
	intervalMs := model.IntervalLength.Milliseconds()
	startInterval := keyDate / intervalMs
	endInterval := (keyDate + 24*time.Hour.Milliseconds()) / intervalMs

	var after int64
	if publishedAfter != nil {
		after = *publishedAfter
	}

	rows, err := r.db.Pool.Query(ctx, selectForDate, startInterval, endInterval, after, publishedUntil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GaenKey
	for rows.Next() {
		var k model.GaenKey
		if err = rows.Scan(&k.KeyData, &k.RollingStartNumber, &k.RollingPeriod, &k.TransmissionRiskLevel); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
