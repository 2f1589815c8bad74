package httpapi

import (
	"net/http"
)

// withCORS wraps a handler with the configured origin policy (§6's
// CORS_ORIGINS setting). A single "*" entry allows any origin; an
// explicit list is matched against the request's Origin header.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(s.CORSOrigins))
	for _, o := range s.CORSOrigins {
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
