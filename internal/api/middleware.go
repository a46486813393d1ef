package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/analytics"
)

const (
	// SessionHeader carries the storefront session ID. Responses echo it so
	// a client without one can adopt the generated ID.
	SessionHeader = "X-Upsell-Session"
	// UserHeader optionally carries the logged-in customer ID.
	UserHeader = "X-Upsell-User"
)

// observe records per-route request metrics and a debug access log. The
// route pattern is read after routing so path parameters do not explode the
// label set.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.deps.Metrics.RecordHTTP(route, status, elapsed)

		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("api request")
	})
}

// authMiddleware validates a bearer token in constant time. A missing token
// yields 401, a wrong one 403.
func authMiddleware(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionMiddleware puts the shopper session into the request context.
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := analytics.Session{ID: strings.TrimSpace(r.Header.Get(SessionHeader))}
		if sess.ID == "" {
			sess.ID = uuid.NewString()
		}
		if uid, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64); err == nil && uid > 0 {
			sess.UserID = uid
		}
		w.Header().Set(SessionHeader, sess.ID)
		next.ServeHTTP(w, r.WithContext(analytics.WithSession(r.Context(), sess)))
	})
}
