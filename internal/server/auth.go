package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/triage-go/internal/logging"
)

// parseAPIKeys splits a comma-separated key list, dropping blanks. Listing
// the new key next to the old one lets clients rotate without downtime.
func parseAPIKeys(s string) []string {
	var keys []string
	for k := range strings.SplitSeq(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// authMiddleware enforces Bearer authentication on the mutating routes.
// A request passes if its token matches any of keys; with no keys the
// middleware is a no-op and New logs a warning once.
//
// Rejected requests get 401 with a WWW-Authenticate challenge. Token values
// are never logged.
func authMiddleware(keys []string, next http.Handler) http.Handler {
	if len(keys) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing bearer token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="triage"`)
			writeError(r.Context(), w, http.StatusUnauthorized, "authorization required")
			return
		}
		if !anyKeyMatches(keys, token) {
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.String("client", clientIP(r)),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="triage" error="invalid_token"`)
			writeError(r.Context(), w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// anyKeyMatches compares token against every key so timing does not reveal
// which key, if any, matched.
func anyKeyMatches(keys []string, token string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(token), []byte(k))
	}
	return match == 1
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or returns "" if the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
