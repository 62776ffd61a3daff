package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decksnap/decksnap-sync/internal/app/storage"
	"github.com/decksnap/decksnap-sync/internal/config"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/room"
	"github.com/decksnap/decksnap-sync/internal/ws"
)

func newMemoryFactory(t *testing.T) *storage.MemoryFactory {
	t.Helper()
	f, err := storage.NewMemoryFactory(context.Background(), config.Default())
	require.NoError(t, err)
	return f
}

type runningApp struct {
	app     *SyncApp
	baseURL string
	wsURL   string
	doc     *model.Document
	token   string
	done    chan error
}

// startApp seeds a memory store with one presentation owned by the "owner" token
func startApp(t *testing.T, mutate func(*config.Config)) *runningApp {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	factory := newMemoryFactory(t)
	owner := model.User{ID: uuid.New(), Name: "Ada", IsActive: true}
	require.NoError(t, factory.MemoryStore().SeedUser(ctx, owner))
	doc, err := factory.MemoryStore().SeedPresentation(ctx,
		model.Presentation{OwnerID: owner.ID, Topic: "Quarterly review"}, model.Slide{}, model.Slide{})
	require.NoError(t, err)

	app, err := NewSyncApp(ctx,
		WithConfig(cfg),
		WithAddress("127.0.0.1:0"),
		WithStorageFactory(factory),
		WithTokenValidator(staticValidator{"owner": owner.ID}),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Start() }()

	addrCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addr, err := app.Addr(addrCtx)
	require.NoError(t, err)

	r := &runningApp{
		app:     app,
		baseURL: "http://" + addr.String(),
		wsURL:   "ws://" + addr.String(),
		doc:     doc,
		token:   "owner",
		done:    done,
	}
	t.Cleanup(func() { _ = app.Stop(5 * time.Second) })
	return r
}

func (r *runningApp) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := r.wsURL + "/api/v1/ws/presentations/" + r.doc.Presentation.ID.String() + "?token=" + r.token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == typ {
			return frame
		}
	}
}

func TestSyncApp_ServesProbes(t *testing.T) {
	t.Parallel()

	r := startApp(t, nil)

	for _, path := range []string{"/health", "/readiness", "/version"} {
		resp, err := http.Get(r.baseURL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(r.baseURL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics are off without telemetry")
}

func TestSyncApp_EditAndShutdown(t *testing.T) {
	t.Parallel()

	r := startApp(t, nil)
	conn := r.dial(t)

	state := readType(t, conn, "sync:state")
	slides, ok := state["slides"].([]any)
	require.True(t, ok)
	assert.Len(t, slides, 2)

	slideID := r.doc.Slides[0].ID
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":         "slide:update",
		"message_id":   "m-1",
		"slide_id":     slideID,
		"changes":      map[string]any{"title": "Highlights"},
		"base_version": model.InitialVersion,
	}))

	ack := readType(t, conn, "sync:ack")
	assert.Equal(t, "m-1", ack["original_message_id"])
	assert.Equal(t, true, ack["success"])
	assert.InDelta(t, model.InitialVersion+1, ack["new_version"], 0)

	rooms := r.app.Components().Rooms
	assert.Equal(t, 1, rooms.ConnectionCount())

	require.NoError(t, r.app.Stop(5*time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, room.CloseGoingAway), "got %v", err)
			break
		}
	}

	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	// a second Stop is a no-op
	require.NoError(t, r.app.Stop(time.Second))
}

func TestSyncApp_ImageEventHook(t *testing.T) {
	t.Parallel()

	tokenFile := filepath.Join(t.TempDir(), "internal-token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("hook-secret\n"), 0o600))

	r := startApp(t, func(cfg *config.Config) {
		cfg.Auth.InternalTokenFile = tokenFile
	})
	conn := r.dial(t)
	readType(t, conn, "sync:state")

	slideID := r.doc.Slides[1].ID
	body := `{"type":"image:generating","slide_id":"` + slideID.String() + `","task_id":"task-7"}`
	target := r.baseURL + "/internal/v1/presentations/" + r.doc.Presentation.ID.String() + "/image-events"

	post := func(token string) int {
		req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post("wrong"))
	require.Equal(t, http.StatusAccepted, post("hook-secret"))

	frame := readType(t, conn, "image:generating")
	assert.Equal(t, slideID.String(), frame["slide_id"])
	assert.Equal(t, "task-7", frame["task_id"])
}

func TestSyncApp_RejectsUnknownToken(t *testing.T) {
	t.Parallel()

	r := startApp(t, nil)
	r.token = "stranger"
	conn := r.dial(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseUnauthorized, closeErr.Code)
}

func TestSyncApp_GetConfig(t *testing.T) {
	t.Parallel()

	r := startApp(t, func(cfg *config.Config) { cfg.Fabric.ChannelPrefix = "deck:" })
	assert.Equal(t, "deck:", r.app.GetConfig().Fabric.ChannelPrefix)

	var state struct {
		Status string `json:"status"`
	}
	resp, err := http.Get(r.baseURL + "/readiness")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "ready", state.Status)
}

func TestSyncApp_ReloadsPolicyFile(t *testing.T) {
	t.Parallel()

	policyFile := filepath.Join(t.TempDir(), "policies.cedar")
	require.NoError(t, os.WriteFile(policyFile, []byte(`forbid(principal, action, resource);`), 0o600))

	r := startApp(t, func(cfg *config.Config) { cfg.Auth.PolicyFile = policyFile })
	require.NotNil(t, r.app.Components().PolicyWatcher)

	firstFrame := func() (string, int) {
		conn := r.dial(t)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]any
		err := conn.ReadJSON(&frame)
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return "", closeErr.Code
		}
		require.NoError(t, err)
		typ, _ := frame["type"].(string)
		return typ, 0
	}

	_, code := firstFrame()
	assert.Equal(t, ws.CloseForbidden, code)

	require.NoError(t, os.WriteFile(policyFile, []byte(
		`permit(principal, action == DeckSnap::Action::"open", resource) when { resource.owner == principal };`,
	), 0o600))
	assert.Eventually(t, func() bool {
		typ, _ := firstFrame()
		return typ == "sync:state"
	}, 5*time.Second, 50*time.Millisecond)
}
