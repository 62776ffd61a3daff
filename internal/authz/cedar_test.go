package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/decksnap/decksnap-sync/internal/auth"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store/memory"
	storemocks "github.com/decksnap/decksnap-sync/internal/store/mocks"
)

const publicDecksPolicy = `
permit(
  principal,
  action == DeckSnap::Action::"open",
  resource
) when {
  resource.owner == principal || resource.isPublic
};
`

func TestNewPolicyAuthorizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policyBytes []byte
		wantErr     string
	}{
		{
			name:        "nil bytes uses default policies",
			policyBytes: nil,
		},
		{
			name:        "empty bytes creates authorizer with no policies",
			policyBytes: []byte(""),
		},
		{
			name:        "invalid policy bytes returns error",
			policyBytes: []byte("this is not a valid cedar policy!!!"),
			wantErr:     "failed to parse Cedar policies",
		},
		{
			name:        "valid custom policy bytes succeeds",
			policyBytes: []byte(publicDecksPolicy),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			authorizer, err := NewPolicyAuthorizer(memory.New(), tt.policyBytes)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, authorizer)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, authorizer)
			assert.NotNil(t, authorizer.policySet)
		})
	}
}

func TestPolicyAuthorizer_Authorize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	owner := uuid.New()
	st := memory.New()
	private, err := st.SeedPresentation(ctx, model.Presentation{OwnerID: owner, Topic: "Private"})
	require.NoError(t, err)
	public, err := st.SeedPresentation(ctx, model.Presentation{OwnerID: owner, Topic: "Public", IsPublic: true})
	require.NoError(t, err)

	tests := []struct {
		name           string
		policy         []byte
		userID         uuid.UUID
		presentationID uuid.UUID
		wantErr        error
	}{
		{name: "owner", userID: owner, presentationID: private.Presentation.ID},
		{name: "other user", userID: uuid.New(), presentationID: private.Presentation.ID, wantErr: auth.ErrForbidden},
		{name: "public deck stays owner only by default", userID: uuid.New(),
			presentationID: public.Presentation.ID, wantErr: auth.ErrForbidden},
		{name: "missing presentation", userID: owner, presentationID: uuid.New(), wantErr: auth.ErrForbidden},
		{name: "custom policy opens public deck", policy: []byte(publicDecksPolicy), userID: uuid.New(),
			presentationID: public.Presentation.ID},
		{name: "custom policy keeps private deck closed", policy: []byte(publicDecksPolicy), userID: uuid.New(),
			presentationID: private.Presentation.ID, wantErr: auth.ErrForbidden},
		{name: "empty policy set denies everyone", policy: []byte(""), userID: owner,
			presentationID: private.Presentation.ID, wantErr: auth.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			authorizer, err := NewPolicyAuthorizer(st, tt.policy)
			require.NoError(t, err)

			err = authorizer.Authorize(ctx, tt.userID, tt.presentationID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPolicyAuthorizer_StoreFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	st := storemocks.NewMockStore(ctrl)
	st.EXPECT().GetPresentation(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	authorizer, err := NewPolicyAuthorizer(st, nil)
	require.NoError(t, err)

	err = authorizer.Authorize(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrForbidden)
	assert.Contains(t, err.Error(), "timeout")
}

func TestPolicyAuthorizer_Evaluate(t *testing.T) {
	t.Parallel()

	authorizer, err := NewPolicyAuthorizer(memory.New(), nil)
	require.NoError(t, err)

	owner := uuid.New()
	p := &model.Presentation{ID: uuid.New(), OwnerID: owner}

	allowed := authorizer.Evaluate(context.Background(), owner, ActionOpen, p)
	assert.True(t, allowed.Allowed)
	assert.Len(t, allowed.Reasons, 1)

	denied := authorizer.Evaluate(context.Background(), owner, "delete", p)
	assert.False(t, denied.Allowed)
	assert.Empty(t, denied.Reasons)
}
