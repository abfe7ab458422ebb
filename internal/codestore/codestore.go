package codestore

import (
	"context"
	"time"
)

// DefaultTTL is the authorization code lifetime.
const DefaultTTL = 600 * time.Second

// AuthCode is the value bound to a single-use authorization code.
type AuthCode struct {
	ClientID      string `json:"client_id"`      // Issuing client.
	RedirectURI   string `json:"redirect_uri"`   // Bound redirect URI.
	CodeChallenge string `json:"code_challenge"` // PKCE S256 challenge, may be empty.
	Email         string `json:"user_email"`     // Authenticated identity.
	Tier          string `json:"user_tier"`      // Tier resolved at login.
	Origin        string `json:"origin"`         // Client display name.
}

// Store holds short-lived authorization codes. Redeem must be atomic
// per code: of two concurrent redemptions exactly one observes the
// value, the other a miss.
type Store interface {
	// Save stores a code with the given TTL.
	Save(ctx context.Context, code string, data AuthCode, ttl time.Duration) error
	// Redeem reads and deletes a code. A missing, expired, or
	// already-redeemed code yields (nil, nil); that is a normal
	// outcome, not an error.
	Redeem(ctx context.Context, code string) (*AuthCode, error)
}
