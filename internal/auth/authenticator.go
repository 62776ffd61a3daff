// Package auth authenticates collaborators from access tokens and decides
// whether a user may join a presentation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store"
)

var (
	// ErrUnauthorized is returned when a credential does not identify an active user
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a user may not access a presentation
	ErrForbidden = errors.New("access denied")
)

// tokenTypeAccess is the "type" claim of tokens accepted for collaboration
const tokenTypeAccess = "access"

// UserGetter looks up users by id
type UserGetter interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

// Authenticator resolves an access token to an active user
type Authenticator struct {
	validator TokenValidator
	users     UserGetter
}

// NewAuthenticator creates an authenticator over validator and users
func NewAuthenticator(validator TokenValidator, users UserGetter) *Authenticator {
	return &Authenticator{validator: validator, users: users}
}

// Authenticate returns the user identified by token. Every credential problem
// is reported as ErrUnauthorized; store failures are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		slog.DebugContext(ctx, "Token validation failed", "error", err)
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	if typ, _ := claims["type"].(string); typ != tokenTypeAccess {
		return nil, fmt.Errorf("%w: token type %q is not accepted", ErrUnauthorized, typ)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrUnauthorized)
	}

	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user is inactive", ErrUnauthorized)
	}
	return user, nil
}
