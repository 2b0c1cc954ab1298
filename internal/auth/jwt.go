package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// ExpiresAt reads the exp claim of a JWT access token without verifying its
// signature. The client only uses it to schedule refreshes; the server stays
// the authority on validity.
func ExpiresAt(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing access token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, constants.ErrNoExpirationClaim
	}

	return claims.ExpiresAt.Time, nil
}

// ExpiresWithin reports whether token is a JWT whose exp claim falls before
// now+skew. Opaque tokens and tokens without exp never expire by this check.
func ExpiresWithin(token string, skew time.Duration, now time.Time) bool {
	if token == "" {
		return false
	}

	expiresAt, err := ExpiresAt(token)
	if err != nil {
		return false
	}

	return now.Add(skew).After(expiresAt)
}

// WithDerivedExpiry fills pair.ExpiresAt from the access token's exp claim
// when the pair carries no explicit expiry.
func WithDerivedExpiry(pair *api.TokenPair) *api.TokenPair {
	if pair == nil || !pair.ExpiresAt.IsZero() {
		return pair
	}

	expiresAt, err := ExpiresAt(pair.AccessToken)
	if err != nil {
		return pair
	}

	derived := *pair
	derived.ExpiresAt = expiresAt

	return &derived
}
