// Package httputil carries small HTTP helpers shared by handlers and
// middleware.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	apperrors "agentgate/internal/errors"
)

// ClientIP extracts the originating address, preferring the first
// X-Forwarded-For hop when present (the gateway runs behind a proxy in
// production).
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the structured error payload, mapping its kind
// to a status code. Internal causes never reach the response body.
func WriteError(w http.ResponseWriter, err error) {
	appErr := apperrors.As(err)
	WriteJSON(w, appErr.HTTPStatus(), map[string]interface{}{
		"error":   string(appErr.Kind),
		"message": appErr.UserMessage(),
		"field":   appErr.Field,
		"reason":  appErr.Reason,
	})
}
