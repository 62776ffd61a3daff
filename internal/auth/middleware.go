package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// RFC 6750 Section 3 error codes
const (
	// errorCodeInvalidRequest indicates the request is missing the credential or it is malformed.
	errorCodeInvalidRequest = "invalid_request"

	// errorCodeInvalidToken indicates the credential was presented but is not valid.
	errorCodeInvalidToken = "invalid_token"
)

// serviceRealm is the protection space of the internal hooks
const serviceRealm = "decksnap-sync-internal"

var errMalformedAuthorization = errors.New("missing or malformed authorization header")

// BearerToken extracts the token of an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformedAuthorization
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMalformedAuthorization
	}
	return token, nil
}

// RequireServiceToken returns middleware that admits requests carrying the static
// bearer token expected. An empty expected token rejects every request.
func RequireServiceToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				slog.Warn("Token extraction failed",
					"error", err,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, errorCodeInvalidRequest, err.Error())
				return
			}

			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				slog.Warn("Service token rejected",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, errorCodeInvalidToken, "token validation failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// sanitizeHeaderValue drops CR and LF and escapes quotes so s fits in a quoted-string
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, `"`, `\"`)
}

// writeError writes a JSON error body with an RFC 6750 WWW-Authenticate challenge
func writeError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		serviceRealm, errCode, sanitizeHeaderValue(description)))
	w.WriteHeader(status)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
