// Package security resolves bearer principals at the HTTP boundary and
// issues the short-lived claim tokens that gate day-2 finalization.
package security

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

const (
	issuerName             = "gaen-backend"
	scopeCurrentDayExposed = "currentDayExposed"

	// delayedKeyTokenLifetime is counted from the start of the bound key date,
	// not from issuance, so the token dies 48h into the two-phase protocol.
	delayedKeyTokenLifetime = 48 * time.Hour
)

// tokenClaims is the wire shape of both inbound and issued tokens. The fake
// flag travels as the string "1" for compatibility with the onboarding
// authority's token format.
type tokenClaims struct {
	jwt.RegisteredClaims
	Scope          string `json:"scope,omitempty"`
	Fake           string `json:"fake,omitempty"`
	DelayedKeyDate *int64 `json:"delayedKeyDate,omitempty"`
}

// Verifier parses and verifies bearer tokens into AuthClaims.
type Verifier struct {
	key []byte
}

// NewVerifier constructs a Verifier for the given HS256 key.
func NewVerifier(key []byte) *Verifier { return &Verifier{key: key} }

// FromRequest resolves the request's bearer principal. It returns nil when
// the header is absent or the token does not verify; pipelines that require
// a principal reject such requests downstream.
func (v *Verifier) FromRequest(r *http.Request) *model.AuthClaims {
	raw := bearerToken(r)
	if raw == "" {
		return nil
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return nil
	}

	out := &model.AuthClaims{
		Subject: claims.Subject,
		Fake:    claims.Fake == "1",
	}
	if claims.DelayedKeyDate != nil {
		d := *claims.DelayedKeyDate
		out.DelayedKeyDate = &d
	}
	return out
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Issuer signs the day-2 claim tokens handed out after a day-1 submission.
type Issuer struct {
	key []byte
}

// NewIssuer constructs an Issuer for the given HS256 key.
func NewIssuer(key []byte) *Issuer { return &Issuer{key: key} }

// IssueDelayedKeyToken creates a signed token binding subject to the given
// key date (10-minute interval number). The fake flag of the original
// principal is propagated so decoy sessions stay decoys on day two.
func (i *Issuer) IssueDelayedKeyToken(subject string, fake bool, delayedKeyDate int64) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	exp := model.DayOf(model.TimeOfInterval(delayedKeyDate)).Add(delayedKeyTokenLifetime)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Issuer:    issuerName,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope:          scopeCurrentDayExposed,
		DelayedKeyDate: &delayedKeyDate,
	}
	if fake {
		claims.Fake = "1"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}
