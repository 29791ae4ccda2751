package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey string

const userKey contextKey = "authenticated_user"

// Middleware validates the session cookie on every request.
type Middleware struct {
	sessions *SessionManager
	logger   *slog.Logger
}

// NewMiddleware wraps protected handlers with session validation.
func NewMiddleware(sessions *SessionManager, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{sessions: sessions, logger: logger}
}

// Handle rejects requests without a valid session cookie. WebSocket
// upgrade requests pass through the same path since the browser sends
// cookies on the upgrade request.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r)
		if err != nil {
			m.logger.Warn("unauthenticated request",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate extracts and verifies the session cookie.
func (m *Middleware) Authenticate(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", errors.New("missing session cookie")
	}
	return m.sessions.Verify(cookie.Value)
}

// Identity adapts the middleware for handlers that resolve the user
// themselves, such as the WebSocket upgrade path.
func (m *Middleware) Identity(r *http.Request) (string, bool) {
	if user, ok := UserFromContext(r.Context()); ok {
		return user, true
	}
	user, err := m.Authenticate(r)
	if err != nil {
		return "", false
	}
	return user, true
}

// UserFromContext retrieves the authenticated user set by Handle.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok
}
