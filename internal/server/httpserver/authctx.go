package httpserver

import (
	"context"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

type ctxKey string

const claimsKey ctxKey = "gaen.claims"

// WithClaims stores the resolved principal in the context.
func WithClaims(ctx context.Context, c *model.AuthClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx returns the principal resolved by the auth middleware, or nil.
func ClaimsFromCtx(ctx context.Context) *model.AuthClaims {
	c, _ := ctx.Value(claimsKey).(*model.AuthClaims)
	return c
}
