package auth

//go:generate mockgen -destination=mocks/mock_validator.go -package=mocks -source=validator.go TokenValidator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator abstracts token validation for testability.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (jwt.MapClaims, error)
}

// defaultLeeway absorbs clock skew between the issuing API and this server
const defaultLeeway = 30 * time.Second

// HMACValidator validates HS256 signed access tokens
type HMACValidator struct {
	secret   []byte
	issuer   string
	audience string
}

var _ TokenValidator = (*HMACValidator)(nil)

// NewHMACValidator creates a validator for tokens signed with secret.
// Empty issuer or audience are not checked.
func NewHMACValidator(secret []byte, issuer, audience string) (*HMACValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &HMACValidator{secret: secret, issuer: issuer, audience: audience}, nil
}

// ValidateToken verifies signature, expiry and the optional issuer and audience
func (v *HMACValidator) ValidateToken(_ context.Context, token string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(defaultLeeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	return claims, nil
}
