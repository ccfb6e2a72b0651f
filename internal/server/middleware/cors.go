package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// CORS returns middleware that sets CORS headers for the allowed origins.
// Every route this gateway serves (health, admin introspection, the
// streaming upgrade) is a GET, so unlike a generic CORS helper this only
// ever advertises GET and OPTIONS -- there is no mutating endpoint to allow
// POST/PUT/DELETE for. If allowedOrigins is empty, all origins are allowed.
// Rejected origins are logged so a misconfigured CORSOrigins list shows up
// as more than a silent browser console error for the caller.
func CORS(allowedOrigins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				} else if logger != nil {
					logger.WarnContext(r.Context(), "cors: rejected origin",
						slog.String("origin", origin), slog.String("path", r.URL.Path))
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
