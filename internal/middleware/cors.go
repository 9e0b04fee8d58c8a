// Package middleware holds the HTTP middleware chain wrapped around the
// relay's router: CORS and request-id tagging. Panic recovery is done by
// the api package's own recoverer.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORS returns middleware that sets Access-Control-* headers from the
// configured origin list and answers preflight OPTIONS requests directly.
// allowAll short-circuits to "*"; otherwise only origins matching an entry
// of origins (compared case-insensitively) are reflected back.
func CORS(origins []string, allowAll bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin != "" {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if originAllowed(origin, origins) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Delete-Token")
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(600))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, o := range allowed {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
