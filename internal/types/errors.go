package types

import "errors"

// Domain specific errors for payment reconciliation and entitlements.
var (
	ErrNotFound            = errors.New("requested item not found")
	ErrUnknownTier         = errors.New("unknown subscription tier")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrMalformedResponse   = errors.New("malformed provider response")
)
