package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session token claim set: who the caller is, which
// quota tier applies, and which registered client the session came
// through.
type Claims struct {
	Tier   string `json:"tier"`   // Assigned tier name.
	Origin string `json:"origin"` // Issuing client name, or "apikey".
	jwt.RegisteredClaims
}

// Service mints and verifies signed session tokens. Tokens are
// stateless; validity is purely signature plus expiry.
type Service struct {
	secret   []byte
	validity time.Duration
	nowFn    func() time.Time
}

// NewService constructs a Service. A non-positive validity defaults to
// seven days.
func NewService(secret string, validity time.Duration) *Service {
	if validity <= 0 {
		validity = 7 * 24 * time.Hour
	}
	return &Service{
		secret:   []byte(secret),
		validity: validity,
		nowFn:    time.Now,
	}
}

// Validity returns the configured token lifetime.
func (s *Service) Validity() time.Duration { return s.validity }

// Mint issues a signed token for the subject with a fixed expiry offset
// from issuance.
func (s *Service) Mint(subject, tierName, origin string) (string, error) {
	now := s.nowFn().UTC()
	claims := Claims{
		Tier:   tierName,
		Origin: origin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
		},
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if errSign != nil {
		return "", fmt.Errorf("token: sign: %w", errSign)
	}
	return signed, nil
}

// Verify parses and validates a raw token. It returns nil for any
// structurally invalid, badly signed, or expired token; callers treat
// nil as unauthenticated.
func (s *Service) Verify(raw string) *Claims {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var claims Claims
	parsed, errParse := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.nowFn))
	if errParse != nil || parsed == nil || !parsed.Valid {
		return nil
	}
	return &claims
}

// BearerToken extracts the bearer token from an Authorization header
// value. It returns "" when the header is absent or malformed.
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
