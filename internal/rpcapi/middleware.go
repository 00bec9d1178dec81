package rpcapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/protolith-db/protolith/internal/buildinfo"
	"github.com/protolith-db/protolith/internal/session"
)

// SessionHeader carries the opaque session token on every non-Login
// request (spec.md §4.7).
const SessionHeader = "protolith-session"

// UserAgentHeader is sent by well-behaved clients (spec.md §6.1).
const UserAgentHeader = "protolith-user-agent"

// VersionHeader carries the server's build version on every response
// (spec.md §6.1, §4.7 middleware step 2).
const VersionHeader = "protolith-version"

type sessionContextKey struct{}

// sessionFromContext returns the Session a request's session token
// resolved to, set by the session-gate middleware.
func sessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return sess, ok
}

// logOperation records which authenticated user performed a database
// operation, resolved from the session the sessionGate middleware
// attached to the request context.
func (s *Server) logOperation(r *http.Request, op, database string) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		return
	}
	s.logger.Debug("operation", slog.String("op", op), slog.String("database", database), slog.String("user", sess.Username))
}

// tracingMiddleware logs path, user-agent, and session headers, and logs
// an error for any downstream failure (spec.md §4.7 middleware step 1).
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []any{
			slog.String("path", r.URL.Path),
			slog.String("user_agent", r.Header.Get(UserAgentHeader)),
			slog.String("session", r.Header.Get(SessionHeader)),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Error("request failed", fields...)
		} else {
			s.logger.Info("request", fields...)
		}
	})
}

// versionMiddleware appends the protolith-version header to every
// response (spec.md §4.7 middleware step 2).
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(VersionHeader, buildinfo.Header())
		next.ServeHTTP(w, r)
	})
}

// sessionGate rejects any non-Login request without a valid session
// token (spec.md §4.7 middleware step 3). loginPath is passed through
// unconditionally.
func (s *Server) sessionGate(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == loginPath {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(SessionHeader)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing session"})
				return
			}
			sess, ok := s.sessions.Get(token)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unknown session"})
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
