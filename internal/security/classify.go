package security

import "github.com/exposure-systems/gaen-backend/internal/model"

// Classifier decides which submissions are synthetic. It implements the
// service layer's classification contract over resolved AuthClaims.
type Classifier struct{}

// NewClassifier constructs a Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// IsValid reports whether the request carries a verified principal.
func (c *Classifier) IsValid(claims *model.AuthClaims) bool {
	return claims != nil
}

// IsFakeRequest reports whether a single key must be treated as a decoy:
// either the key itself is flagged by the client or the whole principal is
// marked fake by the onboarding authority.
func (c *Classifier) IsFakeRequest(claims *model.AuthClaims, key *model.GaenKey) bool {
	if key.Fake == 1 {
		return true
	}
	return claims != nil && claims.Fake
}
