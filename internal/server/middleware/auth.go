package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth validates the static API key carried in the Authorization header
// (Bearer scheme) or the X-API-Key header. An empty configured key disables
// the check entirely, which is the default for local single-node setups.
//
// The key only gates access to the node's HTTP surface; authorization of the
// instructions themselves is bound to the recovered signer, never to this key.
func Auth(apiKey string) func(http.Handler) http.Handler {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			presented := presentedKey(r)
			if subtle.ConstantTimeCompare([]byte(presented), key) != 1 {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing API key"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
