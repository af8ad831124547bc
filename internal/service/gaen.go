// Package service implements the submission and publication pipelines of the
// exposure-notification protocol.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/exposure-systems/gaen-backend/internal/errs"
	"github.com/exposure-systems/gaen-backend/internal/model"
	"github.com/exposure-systems/gaen-backend/internal/repository"
	"github.com/exposure-systems/gaen-backend/internal/validation"
)

// Classifier decides whether a request or single key must be treated as synthetic.
type Classifier interface {
	// IsValid reports whether the request carries a verified principal.
	IsValid(claims *model.AuthClaims) bool
	// IsFakeRequest reports whether key is a decoy for this principal.
	IsFakeRequest(claims *model.AuthClaims, key *model.GaenKey) bool
}

// TokenIssuer issues the claim token that authorizes day-2 finalization.
type TokenIssuer interface {
	IssueDelayedKeyToken(subject string, fake bool, delayedKeyDate int64) (string, error)
}

// Padder tops up a publication batch with decoy keys.
type Padder interface {
	FillUpKeys(keys []model.GaenKey, publishedAfter *int64, keyDate int64) ([]model.GaenKey, error)
}

// Signer renders a batch into the signed binary payload.
type Signer interface {
	Sign(keys []model.GaenKey) ([]byte, error)
}

// GaenService is the protocol surface consumed by the HTTP layer.
type GaenService interface {
	// AddExposed runs the day-1 submission pipeline and returns the issued
	// claim token (empty when the principal is not verifiable).
	AddExposed(ctx context.Context, req model.GaenRequest, userAgent string, claims *model.AuthClaims) (string, error)
	// AddExposedSecond runs the day-2 finalization pipeline.
	AddExposedSecond(ctx context.Context, req model.GaenSecondDay, userAgent string, claims *model.AuthClaims) error
	// GetExposed returns the signed binary batch for a key date.
	GetExposed(ctx context.Context, keyDate int64, publishedAfter *int64) (*model.SignedBatch, error)
	// GetExposedJSON returns the plain batch for the JSON variant.
	GetExposedJSON(ctx context.Context, keyDate int64, publishedAfter *int64) (*model.KeyBatch, error)
	// GetBuckets enumerates the retrievable sub-windows of a calendar day.
	GetBuckets(day string) (*model.DayBuckets, error)
}

// GaenServiceImpl wires the protocol logic to its collaborators. Bucket
// length and request-time budget are fixed for the process lifetime.
type GaenServiceImpl struct {
	repo   repository.KeyRepository
	valid  *validation.Validator
	class  Classifier
	issuer TokenIssuer
	padder Padder
	signer Signer
	log    *zap.Logger

	bucketLength time.Duration
	requestTime  time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewGaenService constructs the service with all collaborators injected.
func NewGaenService(
	repo repository.KeyRepository,
	valid *validation.Validator,
	class Classifier,
	issuer TokenIssuer,
	padder Padder,
	signer Signer,
	bucketLength, requestTime time.Duration,
	log *zap.Logger,
) *GaenServiceImpl {
	return &GaenServiceImpl{
		repo:         repo,
		valid:        valid,
		class:        class,
		issuer:       issuer,
		padder:       padder,
		signer:       signer,
		log:          log,
		bucketLength: bucketLength,
		requestTime:  requestTime,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// AddExposed implements the day-1 pipeline: authorize, filter decoys,
// normalize, persist, issue the day-2 claim token, then pad response latency
// to the configured budget. All rejections happen before the storage call.
func (s *GaenServiceImpl) AddExposed(
	ctx context.Context, req model.GaenRequest, userAgent string, claims *model.AuthClaims,
) (string, error) {
	start := s.now()
	if !s.class.IsValid(claims) {
		s.log.Debug("forbidden, request not valid")
		return "", errs.ErrUnauthorized
	}

	nonFake := make([]model.GaenKey, 0, len(req.GaenKeys))
	for i := range req.GaenKeys {
		key := req.GaenKeys[i]
		if !s.valid.IsValidBase64Key(key.KeyData) {
			return "", fmt.Errorf("%w: no valid base64 key", errs.ErrInvalidInput)
		}
		if s.class.IsFakeRequest(claims, &key) {
			continue
		}
		if err := s.normalizeRollingPeriod(&key, userAgent); err != nil {
			return "", err
		}
		nonFake = append(nonFake, key)
	}

	if claims != nil && claims.Fake && len(nonFake) > 0 {
		return "", fmt.Errorf("%w: claim is fake but list contains non-fake keys", errs.ErrProtocolViolation)
	}

	delayedKeyDate := model.DayOf(model.TimeOfInterval(req.DelayedKeyDate))
	today := model.DayOf(s.now())
	if delayedKeyDate.Before(today.AddDate(0, 0, -1)) || delayedKeyDate.After(today.AddDate(0, 0, 1)) {
		return "", fmt.Errorf("%w: delayedKeyDate must be between yesterday and tomorrow", errs.ErrInvalidInput)
	}

	if len(nonFake) > 0 {
		if err := s.repo.UpsertKeys(ctx, nonFake); err != nil {
			return "", fmt.Errorf("upsert keys: %w", err)
		}
	}

	var token string
	if claims != nil {
		var err error
		token, err = s.issuer.IssueDelayedKeyToken(claims.Subject, claims.Fake, req.DelayedKeyDate)
		if err != nil {
			return "", fmt.Errorf("issue delayed key token: %w", err)
		}
	}

	s.normalizeRequestTime(start)
	return token, nil
}

// AddExposedSecond implements the day-2 pipeline: the single key is accepted
// only if the claim binds the principal to exactly this key date.
func (s *GaenServiceImpl) AddExposedSecond(
	ctx context.Context, req model.GaenSecondDay, userAgent string, claims *model.AuthClaims,
) error {
	start := s.now()
	key := req.DelayedKey
	if !s.valid.IsValidBase64Key(key.KeyData) {
		return fmt.Errorf("%w: no valid base64 key", errs.ErrInvalidInput)
	}
	if claims == nil || claims.DelayedKeyDate == nil {
		return fmt.Errorf("%w: claim does not contain delayedKeyDate", errs.ErrUnauthorized)
	}
	if key.RollingStartNumber != *claims.DelayedKeyDate {
		return fmt.Errorf("%w: key date does not match claim key date", errs.ErrInvalidInput)
	}

	if !s.class.IsFakeRequest(claims, &key) {
		if err := s.normalizeRollingPeriod(&key, userAgent); err != nil {
			return err
		}
		if err := s.repo.UpsertKeys(ctx, []model.GaenKey{key}); err != nil {
			return fmt.Errorf("upsert delayed key: %w", err)
		}
	}

	s.normalizeRequestTime(start)
	return nil
}

// GetExposed returns the signed binary batch for keyDate, padded with decoys.
// A nil Zip in the result means an empty batch (204 upstream).
func (s *GaenServiceImpl) GetExposed(
	ctx context.Context, keyDate int64, publishedAfter *int64,
) (*model.SignedBatch, error) {
	keys, until, expires, err := s.exposedForDate(ctx, keyDate, publishedAfter)
	if err != nil {
		return nil, err
	}
	keys, err = s.padder.FillUpKeys(keys, publishedAfter, keyDate)
	if err != nil {
		return nil, fmt.Errorf("fill up keys: %w", err)
	}

	batch := &model.SignedBatch{PublishedUntil: until, Expires: expires}
	if len(keys) == 0 {
		return batch, nil
	}
	payload, err := s.signer.Sign(keys)
	if err != nil {
		return nil, fmt.Errorf("sign batch: %w", err)
	}
	batch.Zip = payload
	return batch, nil
}

// GetExposedJSON shares retrieval with GetExposed but renders plain JSON.
// No decoy padding is applied on this variant.
func (s *GaenServiceImpl) GetExposedJSON(
	ctx context.Context, keyDate int64, publishedAfter *int64,
) (*model.KeyBatch, error) {
	keys, until, expires, err := s.exposedForDate(ctx, keyDate, publishedAfter)
	if err != nil {
		return nil, err
	}
	return &model.KeyBatch{Keys: keys, PublishedUntil: until, Expires: expires}, nil
}

// exposedForDate validates the request and retrieves the stable batch for
// the current bucket. Invalid dates and watermarks map to not-found.
func (s *GaenServiceImpl) exposedForDate(
	ctx context.Context, keyDate int64, publishedAfter *int64,
) ([]model.GaenKey, int64, time.Time, error) {
	if !s.valid.IsValidKeyDate(keyDate) {
		return nil, 0, time.Time{}, errs.ErrNotFound
	}
	if publishedAfter != nil && !s.valid.IsValidBatchReleaseTime(*publishedAfter) {
		return nil, 0, time.Time{}, errs.ErrNotFound
	}

	until, expires := s.publishedBoundary()
	keys, err := s.repo.GetSortedKeysForDate(ctx, keyDate, publishedAfter, until)
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("get keys for date: %w", err)
	}
	return keys, until, expires, nil
}

// publishedBoundary truncates now onto the bucket grid. Every request within
// the same bucket observes an identical boundary, keeping batches stable for
// untrusted intermediary caches.
func (s *GaenServiceImpl) publishedBoundary() (publishedUntil int64, expires time.Time) {
	bucketMs := s.bucketLength.Milliseconds()
	nowMs := s.now().UnixMilli()
	publishedUntil = nowMs - nowMs%bucketMs
	expires = time.UnixMilli(publishedUntil + bucketMs - 1).UTC()
	return publishedUntil, expires
}

// GetBuckets enumerates the bucket boundaries of day from its start up to
// min(now, day end), each as a relative publication URL.
func (s *GaenServiceImpl) GetBuckets(day string) (*model.DayBuckets, error) {
	dayStart, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: bad day format: %v", errs.ErrInvalidInput, err)
	}
	if !s.valid.IsDateInRange(dayStart) {
		return nil, errs.ErrNotFound
	}

	dayEnd := dayStart.Add(24 * time.Hour)
	stop := s.now().UTC()
	if dayEnd.Before(stop) {
		stop = dayEnd
	}

	urls := []string{}
	for ts := dayStart; ts.Before(stop); ts = ts.Add(s.bucketLength) {
		urls = append(urls, fmt.Sprintf("/v1/gaen/exposed/%d", ts.UnixMilli()))
	}
	return &model.DayBuckets{
		Day:          day,
		RelativeURLs: urls,
		DayTimestamp: dayStart.UnixMilli(),
	}, nil
}

// normalizeRollingPeriod maps the known zero-period client defect onto the
// protocol default of one day. Negative periods are hard rejections. A zero
// period from an iOS client is an anomaly worth flagging: only the Android
// stack is known to send it.
func (s *GaenServiceImpl) normalizeRollingPeriod(key *model.GaenKey, userAgent string) error {
	switch {
	case key.RollingPeriod == 0:
		key.RollingPeriod = model.DefaultRollingPeriod
		if strings.Contains(strings.ToLower(userAgent), "ios") {
			s.log.Error("received a rolling period of 0 from an iOS client",
				zap.String("user_agent", userAgent))
		}
	case key.RollingPeriod < 0:
		return fmt.Errorf("%w: rolling period must not be negative", errs.ErrInvalidInput)
	}
	return nil
}

// normalizeRequestTime blocks until the request-time budget has elapsed since
// start, so response latency does not depend on whether the submission
// carried real keys. Only outcomes that passed validation reach this point.
func (s *GaenServiceImpl) normalizeRequestTime(start time.Time) {
	elapsed := s.now().Sub(start)
	if remaining := s.requestTime - elapsed; remaining > 0 {
		s.sleep(remaining)
	}
}
