// Package auth provides optional bearer token protection for the API.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// Probes and the scrape endpoint stay public so orchestration and
// Prometheus need no credentials.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Browser EventSource clients cannot set headers, so the optimizer stream
// also accepts ?access_token=.
var queryTokenPaths = map[string]bool{
	"/api/v1/stream/optimize": true,
}

// Middleware enforces the bearer token on non-exempt paths when cfg is
// enabled. Denials are logged at debug level with the failure reason, never
// the presented token.
func Middleware(cfg Config, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(cfg.Token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, source := requestToken(r)
			reason := ""
			switch {
			case source == "":
				reason = "missing token"
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				reason = "token mismatch"
			}
			if reason != "" {
				logger.Debug("request unauthorized",
					"component", "auth",
					"path", r.URL.Path,
					"reason", reason,
					"token_source", source,
				)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestToken returns the presented token and where it came from
// ("header" or "query"); source is empty when none was presented.
func requestToken(r *http.Request) (token, source string) {
	if header := r.Header.Get("Authorization"); header != "" {
		if t, ok := strings.CutPrefix(header, "Bearer "); ok && t != "" {
			return t, "header"
		}
		return "", ""
	}
	if queryTokenPaths[r.URL.Path] {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, "query"
		}
	}
	return "", ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="orbitd"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
