package server

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// withRequestID fills in a uuid X-Request-ID when the caller sent none and
// echoes it back. middleware.RequestID then carries it in the context.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// requestLogger is chi's access log written through the standard logger
// under the [server] prefix.
func requestLogger() func(http.Handler) http.Handler {
	return middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  log.New(log.Writer(), "[server] ", log.Flags()|log.Lmsgprefix),
		NoColor: true,
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Request-ID, Mcp-Session-Id")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerAuth checks the Authorization bearer token, X-API-Key, or a token
// query parameter (browsers cannot set headers on websocket upgrades). An
// empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	required := strings.TrimSpace(token)
	if required == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			candidate := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if candidate == "" {
				auth := strings.TrimSpace(r.Header.Get("Authorization"))
				if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
					candidate = strings.TrimSpace(auth[7:])
				}
			}
			if candidate == "" {
				candidate = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(required)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "missing or invalid bearer token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
