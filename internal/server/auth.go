package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docsearch-go/internal/logging"
)

// apiKeyHeader is accepted as an alternative to a Bearer token, for clients
// such as spreadsheet import scripts that cannot set Authorization.
const apiKeyHeader = "X-API-Key"

// authMiddleware requires the configured API key on every request through it.
// The key may be presented as "Authorization: Bearer <key>" or in the
// X-API-Key header. An empty apiKey disables the check; New logs that once at
// startup.
//
// Rejections carry a WWW-Authenticate challenge and a JSON error body. Token
// values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, source := presentedKey(r)
		if token == "" {
			logging.FromContext(r.Context()).Warn("auth: no credentials presented")
			w.Header().Set("WWW-Authenticate", `Bearer realm="docsearch"`)
			writeError(w, r, http.StatusUnauthorized, "authorization required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			logging.FromContext(r.Context()).Warn("auth: invalid credentials",
				slog.String("source", source),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docsearch", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// presentedKey returns the credential on r and the header it came from.
// A Bearer token wins over X-API-Key.
func presentedKey(r *http.Request) (token, source string) {
	if t := bearerToken(r); t != "" {
		return t, "authorization"
	}
	if t := strings.TrimSpace(r.Header.Get(apiKeyHeader)); t != "" {
		return t, "x-api-key"
	}
	return "", ""
}

// bearerToken extracts <token> from "Authorization: Bearer <token>". The
// scheme is case-insensitive; anything else yields "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
