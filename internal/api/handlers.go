package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/decksnap/decksnap-sync/internal/protocol"
	"github.com/decksnap/decksnap-sync/internal/versions"
	"github.com/decksnap/decksnap-sync/internal/ws"
)

const (
	readinessTimeout  = 5 * time.Second
	maxImageEventSize = 64 << 10
)

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func readinessHandler(checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var mu sync.Mutex
		var g errgroup.Group
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			g.Go(func() error {
				err := c.checker.Ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[c.name] = err.Error()
					return err
				}
				results[c.name] = "ok"
				return nil
			})
		}

		resp := ReadinessResponse{Status: "ready", Checks: results}
		status := http.StatusOK
		if err := g.Wait(); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeJSONResponse(w, resp, status)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}

func imageEventsHandler(images ImagePublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID, err := uuid.Parse(chi.URLParam(r, ws.PresentationParam))
		if err != nil {
			writeErrorResponse(w, "Invalid presentation id", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageEventSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeErrorResponse(w, "Event too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeErrorResponse(w, "Failed to read event", http.StatusBadRequest)
			return
		}

		msg, err := images.Publish(r.Context(), documentID, body)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				writeErrorResponse(w, "Invalid image event: "+decodeErr.Err.Error(), http.StatusBadRequest)
				return
			}
			slog.ErrorContext(r.Context(), "Failed to publish image event",
				"document_id", documentID, "error", err)
			writeErrorResponse(w, "Failed to publish image event", http.StatusBadGateway)
			return
		}

		writeJSONResponse(w, ImageEventResponse{Type: msg.Kind()}, http.StatusAccepted)
	}
}

// writeJSONResponse writes a JSON response with the given data
func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
