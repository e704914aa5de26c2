// Package service holds the onboarding session registry and the Supabase
// access token verifier.
package service

import (
	"fmt"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// SupabaseClaims are the claims of a Supabase Auth access token.
type SupabaseClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens signed with the project JWT secret.
type TokenVerifier struct {
	secret   []byte
	audience string
	parser   *jwt.Parser
}

// NewTokenVerifier creates a verifier. An empty audience skips the aud check.
func NewTokenVerifier(secret, audience string) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &TokenVerifier{
		secret:   []byte(secret),
		audience: audience,
		parser:   jwt.NewParser(opts...),
	}
}

// Verify parses the token and returns its claims. The subject is the user id.
func (v *TokenVerifier) Verify(tokenString string) (*SupabaseClaims, error) {
	claims := &SupabaseClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	return claims, nil
}

// Sign issues a token for userID. It backs local tooling and tests; production
// tokens come from Supabase Auth.
func (v *TokenVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SupabaseClaims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
