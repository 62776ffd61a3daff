package auth

import (
	"fmt"
	"log/slog"

	"github.com/decksnap/decksnap-sync/internal/config"
)

// NewFromConfig builds the authenticator from the auth section.
// The JWT secret is read immediately so a missing secret fails startup.
func NewFromConfig(cfg *config.AuthConfig, users UserGetter) (*Authenticator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth configuration is required")
	}

	secret, err := cfg.GetJWTSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to read jwt secret: %w", err)
	}

	validator, err := NewHMACValidator(secret, cfg.Issuer, cfg.Audience)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	slog.Info("auth: HS256 access tokens", "issuer", cfg.Issuer, "audience", cfg.Audience)
	return NewAuthenticator(validator, users), nil
}
