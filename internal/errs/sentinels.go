// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates a date or watermark outside the served range.
	// Deliberately indistinguishable from a missing resource so that the
	// retention boundaries are not leaked precisely.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, invalid or wrongly scoped principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput indicates malformed input: bad key encoding, negative
	// rolling period, or a date that contradicts the request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProtocolViolation indicates a client breaking the submission
	// protocol, e.g. a fake claim accompanied by real keys.
	ErrProtocolViolation = errors.New("protocol violation")
)
