package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decksnap/decksnap-sync/internal/auth"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store/memory"
)

func TestPolicyAuthorizer_SetPolicies(t *testing.T) {
	t.Parallel()

	authorizer, err := NewPolicyAuthorizer(memory.New(), nil)
	require.NoError(t, err)

	p := &model.Presentation{ID: uuid.New(), OwnerID: uuid.New(), IsPublic: true}
	visitor := uuid.New()
	assert.False(t, authorizer.Evaluate(context.Background(), visitor, ActionOpen, p).Allowed)

	require.NoError(t, authorizer.SetPolicies([]byte(publicDecksPolicy)))
	assert.True(t, authorizer.Evaluate(context.Background(), visitor, ActionOpen, p).Allowed)

	err = authorizer.SetPolicies([]byte("permit("))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Cedar policies")
	assert.True(t, authorizer.Evaluate(context.Background(), visitor, ActionOpen, p).Allowed)
}

func TestWatchPolicyFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	owner := uuid.New()
	doc, err := st.SeedPresentation(ctx, model.Presentation{OwnerID: owner, Topic: "Open house", IsPublic: true})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "policies.cedar")
	require.NoError(t, os.WriteFile(path, []byte(defaultPolicies), 0o600))

	authorizer, err := NewPolicyAuthorizer(st, []byte(defaultPolicies))
	require.NoError(t, err)
	watcher, err := WatchPolicyFile(path, authorizer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	visitor := uuid.New()
	require.ErrorIs(t, authorizer.Authorize(ctx, visitor, doc.Presentation.ID), auth.ErrForbidden)

	require.NoError(t, os.WriteFile(path, []byte(publicDecksPolicy), 0o600))
	assert.Eventually(t, func() bool {
		return authorizer.Authorize(ctx, visitor, doc.Presentation.ID) == nil
	}, 5*time.Second, 20*time.Millisecond)

	// a broken update keeps the last good policies
	require.NoError(t, os.WriteFile(path, []byte("permit("), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.NoError(t, authorizer.Authorize(ctx, visitor, doc.Presentation.ID))
}

func TestWatchPolicyFile_MissingDirectory(t *testing.T) {
	t.Parallel()

	authorizer, err := NewPolicyAuthorizer(memory.New(), nil)
	require.NoError(t, err)

	_, err = WatchPolicyFile(filepath.Join(t.TempDir(), "missing", "policies.cedar"), authorizer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch policy file")
}

func TestPolicyWatcher_Reload(t *testing.T) {
	t.Parallel()

	authorizer, err := NewPolicyAuthorizer(memory.New(), nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "policies.cedar")
	require.NoError(t, os.WriteFile(path, []byte(publicDecksPolicy), 0o600))

	watcher, err := WatchPolicyFile(path, authorizer)
	require.NoError(t, err)
	require.NoError(t, watcher.Reload())
	require.NoError(t, watcher.Close())

	require.NoError(t, os.Remove(path))
	err = watcher.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read policy file")
}
