package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/exposure-systems/gaen-backend/internal/errs"
	"github.com/exposure-systems/gaen-backend/internal/model"
	"github.com/exposure-systems/gaen-backend/internal/repository"
	"github.com/exposure-systems/gaen-backend/internal/validation"
)

type fakeRepo struct {
	upserts [][]model.GaenKey
	keys    []model.GaenKey

	upsertErr error
	getErr    error

	gotKeyDate int64
	gotAfter   *int64
	gotUntil   int64
}

var _ repository.KeyRepository = (*fakeRepo)(nil)

func (f *fakeRepo) UpsertKeys(_ context.Context, keys []model.GaenKey) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cpy := append([]model.GaenKey(nil), keys...)
	f.upserts = append(f.upserts, cpy)
	return nil
}

func (f *fakeRepo) GetSortedKeysForDate(_ context.Context, keyDate int64, publishedAfter *int64, publishedUntil int64) ([]model.GaenKey, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.gotKeyDate = keyDate
	f.gotAfter = publishedAfter
	f.gotUntil = publishedUntil
	return f.keys, nil
}

type fakeClassifier struct {
	valid   bool
	keyOnly bool // ignore the claim-level fake flag, as a misbehaving classifier would
}

func (c *fakeClassifier) IsValid(claims *model.AuthClaims) bool { return c.valid }
func (c *fakeClassifier) IsFakeRequest(claims *model.AuthClaims, key *model.GaenKey) bool {
	if key.Fake == 1 {
		return true
	}
	if c.keyOnly {
		return false
	}
	return claims != nil && claims.Fake
}

type fakeIssuer struct {
	token string
	err   error

	lastSubject string
	lastFake    bool
	lastDate    int64
	calls       int
}

func (f *fakeIssuer) IssueDelayedKeyToken(subject string, fake bool, delayedKeyDate int64) (string, error) {
	f.calls++
	f.lastSubject = subject
	f.lastFake = fake
	f.lastDate = delayedKeyDate
	return f.token, f.err
}

type fakePadder struct {
	add   int
	err   error
	calls int
}

func (f *fakePadder) FillUpKeys(keys []model.GaenKey, publishedAfter *int64, keyDate int64) ([]model.GaenKey, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for i := 0; i < f.add; i++ {
		keys = append(keys, model.GaenKey{KeyData: validKeyData(), RollingPeriod: model.DefaultRollingPeriod})
	}
	return keys, nil
}

type fakeSigner struct {
	payload []byte
	err     error
	gotKeys []model.GaenKey
}

func (f *fakeSigner) Sign(keys []model.GaenKey) ([]byte, error) {
	f.gotKeys = keys
	return f.payload, f.err
}

func validKeyData() string {
	return base64.StdEncoding.EncodeToString(make([]byte, model.KeyLength))
}

func todayInterval() int64 {
	return time.Now().UTC().Unix() / 600
}

func intervalDaysFromNow(days int) int64 {
	return time.Now().UTC().AddDate(0, 0, days).Unix() / 600
}

type deps struct {
	repo   *fakeRepo
	class  *fakeClassifier
	issuer *fakeIssuer
	padder *fakePadder
	signer *fakeSigner
}

func newTestService(t *testing.T, requestTime time.Duration) (*GaenServiceImpl, *deps) {
	t.Helper()
	d := &deps{
		repo:   &fakeRepo{},
		class:  &fakeClassifier{valid: true},
		issuer: &fakeIssuer{token: "tok"},
		padder: &fakePadder{},
		signer: &fakeSigner{payload: []byte("zip")},
	}
	valid := validation.New(14*24*time.Hour, 2*time.Hour)
	s := NewGaenService(d.repo, valid, d.class, d.issuer, d.padder, d.signer,
		2*time.Hour, requestTime, zap.NewNop())
	return s, d
}

func claimsFor(sub string) *model.AuthClaims {
	return &model.AuthClaims{Subject: sub}
}

func TestAddExposed_PersistsRealKeysAndIssuesToken(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)

	req := model.GaenRequest{
		GaenKeys: []model.GaenKey{
			{KeyData: validKeyData(), RollingStartNumber: todayInterval(), RollingPeriod: 144, TransmissionRiskLevel: 3},
		},
		DelayedKeyDate: todayInterval(),
	}
	token, err := s.AddExposed(context.Background(), req, "test-agent", claimsFor("alice"))
	if err != nil {
		t.Fatalf("AddExposed: %v", err)
	}
	if token != "tok" {
		t.Fatalf("want issued token, got %q", token)
	}
	if len(d.repo.upserts) != 1 || len(d.repo.upserts[0]) != 1 {
		t.Fatalf("want one upsert of one key, got %+v", d.repo.upserts)
	}
	got := d.repo.upserts[0][0]
	if got.RollingPeriod != 144 || got.TransmissionRiskLevel != 3 {
		t.Fatalf("key modified on the way to storage: %+v", got)
	}
	if d.issuer.lastSubject != "alice" || d.issuer.lastDate != req.DelayedKeyDate {
		t.Fatalf("token bound wrong: subject=%q date=%d", d.issuer.lastSubject, d.issuer.lastDate)
	}
}

func TestAddExposed_RejectsInvalidPrincipal(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)
	d.class.valid = false

	_, err := s.AddExposed(context.Background(), model.GaenRequest{DelayedKeyDate: todayInterval()}, "ua", nil)
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if len(d.repo.upserts) != 0 {
		t.Fatalf("nothing may be persisted on rejection")
	}
}

func TestAddExposed_RejectsBadBase64(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)

	req := model.GaenRequest{
		GaenKeys:       []model.GaenKey{{KeyData: "not base64!!"}},
		DelayedKeyDate: todayInterval(),
	}
	_, err := s.AddExposed(context.Background(), req, "ua", claimsFor("a"))
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	if len(d.repo.upserts) != 0 {
		t.Fatalf("nothing may be persisted on rejection")
	}
}

func TestAddExposed_SkipsFakeKeysSilently(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)

	req := model.GaenRequest{
		GaenKeys: []model.GaenKey{
			{KeyData: validKeyData(), Fake: 1, RollingPeriod: 144},
		},
		DelayedKeyDate: todayInterval(),
	}
	token, err := s.AddExposed(context.Background(), req, "ua", claimsFor("a"))
	if err != nil {
		t.Fatalf("decoy-only submission must succeed: %v", err)
	}
	if token == "" {
		t.Fatalf("decoy-only submission still gets a token")
	}
	if len(d.repo.upserts) != 0 {
		t.Fatalf("decoy keys must never reach storage: %+v", d.repo.upserts)
	}
}

func TestAddExposed_FakeClaimWithRealKeysIsViolation(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)
	// a classifier that lets claim-fake keys through must not defeat the guard
	d.class.keyOnly = true

	req := model.GaenRequest{
		GaenKeys:       []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144}},
		DelayedKeyDate: todayInterval(),
	}
	_, err := s.AddExposed(context.Background(), req, "ua", &model.AuthClaims{Subject: "a", Fake: true})
	if !errors.Is(err, errs.ErrProtocolViolation) {
		t.Fatalf("want ErrProtocolViolation, got %v", err)
	}
	if len(d.repo.upserts) != 0 {
		t.Fatalf("nothing may be persisted on a protocol violation")
	}
}

func TestAddExposed_RollingPeriodNormalization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		period  int32
		want    int32
		wantErr bool
	}{
		{name: "zero becomes default", period: 0, want: model.DefaultRollingPeriod},
		{name: "negative rejected", period: -1, wantErr: true},
		{name: "full day unchanged", period: 144, want: 144},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, d := newTestService(t, 0)
			req := model.GaenRequest{
				GaenKeys:       []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: tc.period}},
				DelayedKeyDate: todayInterval(),
			}
			_, err := s.AddExposed(context.Background(), req, "ua", claimsFor("a"))
			if tc.wantErr {
				if !errors.Is(err, errs.ErrInvalidInput) {
					t.Fatalf("want ErrInvalidInput, got %v", err)
				}
				if len(d.repo.upserts) != 0 {
					t.Fatalf("nothing may be persisted on rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("AddExposed: %v", err)
			}
			if got := d.repo.upserts[0][0].RollingPeriod; got != tc.want {
				t.Fatalf("rolling period: got %d want %d", got, tc.want)
			}
		})
	}
}

func TestAddExposed_DelayedKeyDateWindow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		days    int
		wantErr bool
	}{
		{name: "yesterday ok", days: -1},
		{name: "today ok", days: 0},
		{name: "tomorrow ok", days: 1},
		{name: "two days ago rejected", days: -2, wantErr: true},
		{name: "two days ahead rejected", days: 2, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, d := newTestService(t, 0)
			req := model.GaenRequest{
				GaenKeys:       []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144}},
				DelayedKeyDate: intervalDaysFromNow(tc.days),
			}
			_, err := s.AddExposed(context.Background(), req, "ua", claimsFor("a"))
			if tc.wantErr {
				if !errors.Is(err, errs.ErrInvalidInput) {
					t.Fatalf("want ErrInvalidInput, got %v", err)
				}
				if len(d.repo.upserts) != 0 {
					t.Fatalf("no partial persistence on a rejected request")
				}
				return
			}
			if err != nil {
				t.Fatalf("AddExposed: %v", err)
			}
		})
	}
}

func TestAddExposed_TimingNormalization(t *testing.T) {
	t.Parallel()
	const budget = 50 * time.Millisecond

	real := model.GaenRequest{
		GaenKeys:       []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144}},
		DelayedKeyDate: todayInterval(),
	}
	decoy := model.GaenRequest{
		GaenKeys:       []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144, Fake: 1}},
		DelayedKeyDate: todayInterval(),
	}
	for name, req := range map[string]model.GaenRequest{"real": real, "decoy": decoy} {
		s, _ := newTestService(t, budget)
		start := time.Now()
		if _, err := s.AddExposed(context.Background(), req, "ua", claimsFor("a")); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if elapsed := time.Since(start); elapsed < budget {
			t.Fatalf("%s submission returned after %v, want at least %v", name, elapsed, budget)
		}
	}
}

func TestAddExposedSecond_Pipeline(t *testing.T) {
	t.Parallel()
	boundDate := todayInterval()

	t.Run("bad base64", func(t *testing.T) {
		s, _ := newTestService(t, 0)
		err := s.AddExposedSecond(context.Background(), model.GaenSecondDay{
			DelayedKey: model.GaenKey{KeyData: "nope"},
		}, "ua", &model.AuthClaims{Subject: "a", DelayedKeyDate: &boundDate})
		if !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("want ErrInvalidInput, got %v", err)
		}
	})

	t.Run("missing claim forbidden", func(t *testing.T) {
		s, _ := newTestService(t, 0)
		err := s.AddExposedSecond(context.Background(), model.GaenSecondDay{
			DelayedKey: model.GaenKey{KeyData: validKeyData(), RollingStartNumber: boundDate},
		}, "ua", &model.AuthClaims{Subject: "a"})
		if !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("date mismatch rejected", func(t *testing.T) {
		s, d := newTestService(t, 0)
		err := s.AddExposedSecond(context.Background(), model.GaenSecondDay{
			DelayedKey: model.GaenKey{KeyData: validKeyData(), RollingStartNumber: boundDate + 144},
		}, "ua", &model.AuthClaims{Subject: "a", DelayedKeyDate: &boundDate})
		if !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("want ErrInvalidInput, got %v", err)
		}
		if len(d.repo.upserts) != 0 {
			t.Fatalf("nothing may be persisted on rejection")
		}
	})

	t.Run("fake key not persisted", func(t *testing.T) {
		s, d := newTestService(t, 0)
		err := s.AddExposedSecond(context.Background(), model.GaenSecondDay{
			DelayedKey: model.GaenKey{KeyData: validKeyData(), RollingStartNumber: boundDate, Fake: 1},
		}, "ua", &model.AuthClaims{Subject: "a", DelayedKeyDate: &boundDate})
		if err != nil {
			t.Fatalf("fake finalization must succeed: %v", err)
		}
		if len(d.repo.upserts) != 0 {
			t.Fatalf("fake key reached storage")
		}
	})

	t.Run("real key persisted with normalization", func(t *testing.T) {
		s, d := newTestService(t, 0)
		err := s.AddExposedSecond(context.Background(), model.GaenSecondDay{
			DelayedKey: model.GaenKey{KeyData: validKeyData(), RollingStartNumber: boundDate, RollingPeriod: 0},
		}, "ua", &model.AuthClaims{Subject: "a", DelayedKeyDate: &boundDate})
		if err != nil {
			t.Fatalf("AddExposedSecond: %v", err)
		}
		if len(d.repo.upserts) != 1 || len(d.repo.upserts[0]) != 1 {
			t.Fatalf("want single key persisted, got %+v", d.repo.upserts)
		}
		if got := d.repo.upserts[0][0].RollingPeriod; got != model.DefaultRollingPeriod {
			t.Fatalf("rolling period not normalized: %d", got)
		}
	})
}

func TestGetExposed_InvalidDateAndWatermark(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, 0)

	// far outside the retention window
	old := time.Now().UTC().AddDate(0, 0, -60).UnixMilli()
	if _, err := s.GetExposed(context.Background(), old, nil); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for old date, got %v", err)
	}

	keyDate := model.DayOf(time.Now()).UnixMilli()
	misaligned := time.Now().UnixMilli()/7200000*7200000 + 1
	if _, err := s.GetExposed(context.Background(), keyDate, &misaligned); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for misaligned watermark, got %v", err)
	}
}

func TestGetExposed_BoundaryIsBucketAligned(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)

	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	keyDate := model.DayOf(fixed).UnixMilli()
	d.repo.keys = []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144}}

	batch, err := s.GetExposed(context.Background(), keyDate, nil)
	if err != nil {
		t.Fatalf("GetExposed: %v", err)
	}
	bucketMs := int64(2 * time.Hour / time.Millisecond)
	wantUntil := fixed.UnixMilli() - fixed.UnixMilli()%bucketMs
	if batch.PublishedUntil != wantUntil {
		t.Fatalf("publishedUntil: got %d want %d", batch.PublishedUntil, wantUntil)
	}
	if batch.PublishedUntil%bucketMs != 0 {
		t.Fatalf("publishedUntil not bucket aligned: %d", batch.PublishedUntil)
	}
	if got := batch.Expires.UnixMilli(); got != wantUntil+bucketMs-1 {
		t.Fatalf("expires: got %d want %d", got, wantUntil+bucketMs-1)
	}
	if d.repo.gotUntil != wantUntil {
		t.Fatalf("repository queried with %d, want %d", d.repo.gotUntil, wantUntil)
	}
}

func TestGetExposed_EmptyBatchAfterPadding(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)

	keyDate := model.DayOf(time.Now()).UnixMilli()
	batch, err := s.GetExposed(context.Background(), keyDate, nil)
	if err != nil {
		t.Fatalf("GetExposed: %v", err)
	}
	if d.padder.calls != 1 {
		t.Fatalf("padding collaborator must be consulted")
	}
	if batch.Zip != nil {
		t.Fatalf("empty batch must carry no payload")
	}
	if batch.PublishedUntil == 0 {
		t.Fatalf("empty batch still needs the cache boundary")
	}
}

func TestGetExposed_PadsAndSigns(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)
	d.padder.add = 5

	keyDate := model.DayOf(time.Now()).UnixMilli()
	d.repo.keys = []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144}}

	batch, err := s.GetExposed(context.Background(), keyDate, nil)
	if err != nil {
		t.Fatalf("GetExposed: %v", err)
	}
	if string(batch.Zip) != "zip" {
		t.Fatalf("want signed payload, got %q", batch.Zip)
	}
	if len(d.signer.gotKeys) != 6 {
		t.Fatalf("signer must receive the padded batch, got %d keys", len(d.signer.gotKeys))
	}
}

func TestGetExposedJSON_SkipsPadding(t *testing.T) {
	t.Parallel()
	s, d := newTestService(t, 0)

	keyDate := model.DayOf(time.Now()).UnixMilli()
	d.repo.keys = []model.GaenKey{{KeyData: validKeyData(), RollingPeriod: 144}}

	batch, err := s.GetExposedJSON(context.Background(), keyDate, nil)
	if err != nil {
		t.Fatalf("GetExposedJSON: %v", err)
	}
	if d.padder.calls != 0 {
		t.Fatalf("JSON variant must not pad")
	}
	if len(batch.Keys) != 1 {
		t.Fatalf("want stored keys unchanged, got %d", len(batch.Keys))
	}
}

func TestGetExposed_SameBucketSameBoundary(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, 0)

	fixed := time.Now()
	s.now = func() time.Time { return fixed }
	keyDate := model.DayOf(fixed).UnixMilli()

	first, err := s.GetExposed(context.Background(), keyDate, nil)
	if err != nil {
		t.Fatalf("GetExposed: %v", err)
	}
	// a second request 1s later, still inside the 2h bucket
	s.now = func() time.Time { return fixed.Add(time.Second) }
	second, err := s.GetExposed(context.Background(), keyDate, nil)
	if err != nil {
		t.Fatalf("GetExposed: %v", err)
	}
	if first.PublishedUntil != second.PublishedUntil {
		t.Fatalf("boundary drifted within a bucket: %d vs %d", first.PublishedUntil, second.PublishedUntil)
	}
}

func TestGetBuckets(t *testing.T) {
	t.Parallel()

	t.Run("past day is complete", func(t *testing.T) {
		s, _ := newTestService(t, 0)
		day := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		b, err := s.GetBuckets(day)
		if err != nil {
			t.Fatalf("GetBuckets: %v", err)
		}
		if len(b.RelativeURLs) != 12 {
			t.Fatalf("a finished day has 12 two-hour buckets, got %d", len(b.RelativeURLs))
		}
		wantFirst := fmt.Sprintf("/v1/gaen/exposed/%d", b.DayTimestamp)
		if b.RelativeURLs[0] != wantFirst {
			t.Fatalf("first bucket url: got %q want %q", b.RelativeURLs[0], wantFirst)
		}
	})

	t.Run("today truncated at now", func(t *testing.T) {
		s, _ := newTestService(t, 0)
		today := model.DayOf(time.Now())
		s.now = func() time.Time { return today.Add(5 * time.Hour) }
		b, err := s.GetBuckets(today.Format("2006-01-02"))
		if err != nil {
			t.Fatalf("GetBuckets: %v", err)
		}
		if len(b.RelativeURLs) != 3 {
			t.Fatalf("at 05:00 there are 3 retrievable buckets, got %d", len(b.RelativeURLs))
		}
		if b.DayTimestamp != today.UnixMilli() {
			t.Fatalf("dayTimestamp: got %d want %d", b.DayTimestamp, today.UnixMilli())
		}
	})

	t.Run("out of range", func(t *testing.T) {
		s, _ := newTestService(t, 0)
		day := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
		if _, err := s.GetBuckets(day); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("bad format", func(t *testing.T) {
		s, _ := newTestService(t, 0)
		if _, err := s.GetBuckets("not-a-date"); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("want ErrInvalidInput, got %v", err)
		}
	})
}
