package helpers

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/onsi/gomega"

	"github.com/decksnap/decksnap-sync/internal/fabric"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store"
	"github.com/decksnap/decksnap-sync/internal/store/memory"
)

// SharedFactory hands every instance the same store and a fresh Redis fabric
type SharedFactory struct {
	Store     *memory.Store
	RedisAddr string
}

// CreateStore returns the shared store
func (f *SharedFactory) CreateStore(context.Context) (store.Store, error) {
	return f.Store, nil
}

// CreateFabric connects a new Redis fabric
func (f *SharedFactory) CreateFabric(ctx context.Context) (fabric.Fabric, error) {
	return fabric.NewRedis(ctx, fabric.WithRedisAddress(f.RedisAddr, "", 0))
}

// Cleanup is a no-op; the shared store outlives every instance
func (*SharedFactory) Cleanup() {}

// TokenValidator accepts "token-<user id>" as an access token for that user
type TokenValidator struct{}

// Token returns the access token accepted for userID
func Token(userID uuid.UUID) string {
	return "token-" + userID.String()
}

// ValidateToken implements auth.TokenValidator
func (TokenValidator) ValidateToken(_ context.Context, token string) (jwt.MapClaims, error) {
	raw, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return nil, errors.New("invalid token")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid token")
	}
	return jwt.MapClaims{"sub": id.String(), "type": "access"}, nil
}

// AllowAll lets any authenticated user open any presentation
type AllowAll struct{}

// Authorize implements ws.Authorizer
func (AllowAll) Authorize(context.Context, uuid.UUID, uuid.UUID) error { return nil }

// SeedUser stores an active user named name
func SeedUser(ctx context.Context, st *memory.Store, name string) model.User {
	u := model.User{ID: uuid.New(), Name: name, IsActive: true}
	gomega.Expect(st.SeedUser(ctx, u)).To(gomega.Succeed())
	return u
}

// SeedPresentation stores a presentation of owner with n empty slides
func SeedPresentation(ctx context.Context, st *memory.Store, owner model.User, n int) *model.Document {
	slides := make([]model.Slide, n)
	doc, err := st.SeedPresentation(ctx, model.Presentation{OwnerID: owner.ID, Topic: "Roadmap"}, slides...)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return doc
}
