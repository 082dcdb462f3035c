package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware requires the assistant to present apiKey in the
// Authorization header, either as a bearer token or bare. A missing header is
// 401, a wrong key 403. An empty apiKey returns next unchanged.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := presentedKey(r)
		switch {
		case !ok:
			w.Header().Set("WWW-Authenticate", `Bearer realm="repodeck-mcp"`)
			http.Error(w, "missing api key", http.StatusUnauthorized)
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			http.Error(w, "invalid api key", http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func presentedKey(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if v == "" {
		return "", false
	}
	if scheme, token, found := strings.Cut(v, " "); found && strings.EqualFold(scheme, "bearer") {
		v = strings.TrimSpace(token)
	}
	return v, v != ""
}
