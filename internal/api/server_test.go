package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decksnap/decksnap-sync/internal/api"
	"github.com/decksnap/decksnap-sync/internal/events"
	"github.com/decksnap/decksnap-sync/internal/protocol"
	"github.com/decksnap/decksnap-sync/internal/ws"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type recordingRooms struct {
	mu   sync.Mutex
	docs []uuid.UUID
	msgs []protocol.Message
	err  error
}

func (r *recordingRooms) BroadcastToRoom(_ context.Context, documentID uuid.UUID, msg protocol.Message, _ uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, documentID)
	r.msgs = append(r.msgs, msg)
	return nil
}

func serve(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	rr := serve(t, api.NewServer(nil), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name           string
		opts           []api.ServerOption
		expectedStatus int
		expectedBody   api.ReadinessResponse
	}{
		{
			name:           "no checks",
			expectedStatus: http.StatusOK,
			expectedBody:   api.ReadinessResponse{Status: "ready"},
		},
		{
			name: "all dependencies up",
			opts: []api.ServerOption{
				api.WithReadinessCheck("store", ok),
				api.WithReadinessCheck("fabric", ok),
			},
			expectedStatus: http.StatusOK,
			expectedBody: api.ReadinessResponse{
				Status: "ready",
				Checks: map[string]string{"store": "ok", "fabric": "ok"},
			},
		},
		{
			name: "fabric down",
			opts: []api.ServerOption{
				api.WithReadinessCheck("store", ok),
				api.WithReadinessCheck("fabric", down),
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody: api.ReadinessResponse{
				Status: "not ready",
				Checks: map[string]string{"store": "ok", "fabric": "connection refused"},
			},
		},
		{
			name:           "nil checker is ignored",
			opts:           []api.ServerOption{api.WithReadinessCheck("store", nil)},
			expectedStatus: http.StatusOK,
			expectedBody:   api.ReadinessResponse{Status: "ready"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rr := serve(t, api.NewServer(nil, tt.opts...), http.MethodGet, "/readiness", "", nil)
			assert.Equal(t, tt.expectedStatus, rr.Code)

			var resp api.ReadinessResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			if len(tt.expectedBody.Checks) == 0 {
				assert.Empty(t, resp.Checks)
				tt.expectedBody.Checks = resp.Checks
			}
			assert.Equal(t, tt.expectedBody, resp)
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	rr := serve(t, api.NewServer(nil), http.MethodGet, "/version", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform", "build_type"} {
		assert.NotEmpty(t, resp[key], key)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rr := serve(t, api.NewServer(nil), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("decksnap_sync_messages_total 1\n"))
	})
	rr = serve(t, api.NewServer(nil, api.WithMetricsHandler(metrics)), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "decksnap_sync_messages_total")
}

func TestWebSocketRoute(t *testing.T) {
	t.Parallel()

	var got string
	syncHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = chi.URLParam(r, ws.PresentationParam)
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	server := api.NewServer(syncHandler)

	docID := uuid.New()
	rr := serve(t, server, http.MethodGet, "/api/v1/ws/presentations/"+docID.String()+"?token=abc", "", nil)
	assert.Equal(t, http.StatusSwitchingProtocols, rr.Code)
	assert.Equal(t, docID.String(), got)

	rr = serve(t, server, http.MethodPost, "/api/v1/ws/presentations/"+docID.String(), "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestImageEventsEndpoint(t *testing.T) {
	t.Parallel()

	const token = "hook-token"
	docID := uuid.New()
	slideID := uuid.New()
	target := "/internal/v1/presentations/" + docID.String() + "/image-events"
	authorized := http.Header{"Authorization": {"Bearer " + token}}
	completed := `{"type":"image:completed","slide_id":"` + slideID.String() + `","image_url":"https://cdn/x.png"}`

	tests := []struct {
		name           string
		target         string
		body           string
		header         http.Header
		broadcastErr   error
		expectedStatus int
		expectedType   protocol.MessageType
		expectedError  string
	}{
		{
			name:           "completed event is broadcast",
			target:         target,
			body:           completed,
			header:         authorized,
			expectedStatus: http.StatusAccepted,
			expectedType:   protocol.TypeImageCompleted,
		},
		{
			name:           "missing token",
			target:         target,
			body:           completed,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong token",
			target:         target,
			body:           completed,
			header:         http.Header{"Authorization": {"Bearer nope"}},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid presentation id",
			target:         "/internal/v1/presentations/not-a-uuid/image-events",
			body:           completed,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid presentation id",
		},
		{
			name:           "not an image event",
			target:         target,
			body:           `{"type":"slide:update"}`,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid image event",
		},
		{
			name:           "completed without url",
			target:         target,
			body:           `{"type":"image:completed","slide_id":"` + slideID.String() + `"}`,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "image_url",
		},
		{
			name:           "oversized body",
			target:         target,
			body:           `{"type":"image:failed","error":"` + strings.Repeat("x", 70<<10) + `"}`,
			header:         authorized,
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedError:  "Event too large",
		},
		{
			name:           "fabric failure",
			target:         target,
			body:           completed,
			header:         authorized,
			broadcastErr:   errors.New("redis down"),
			expectedStatus: http.StatusBadGateway,
			expectedError:  "Failed to publish image event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rooms := &recordingRooms{err: tt.broadcastErr}
			server := api.NewServer(nil, api.WithImageEvents(events.NewNotifier(rooms), token))

			rr := serve(t, server, http.MethodPost, tt.target, tt.body, tt.header)
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())

			if tt.expectedType != "" {
				var resp api.ImageEventResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedType, resp.Type)
				require.Len(t, rooms.msgs, 1)
				assert.Equal(t, docID, rooms.docs[0])
				assert.Equal(t, tt.expectedType, rooms.msgs[0].Kind())
				return
			}
			assert.Empty(t, rooms.msgs)
			if tt.expectedError != "" {
				var resp api.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Contains(t, resp.Error, tt.expectedError)
			}
		})
	}
}

func TestImageEventsDisabled(t *testing.T) {
	t.Parallel()

	rr := serve(t, api.NewServer(nil), http.MethodPost,
		"/internal/v1/presentations/"+uuid.NewString()+"/image-events", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	server := api.NewServer(nil, api.WithMiddlewares(api.LoggingMiddleware))
	rr := serve(t, server, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
