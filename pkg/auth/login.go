package auth

import (
	"context"
	"log/slog"
	"net/http"
)

// PasswordVerifier checks a user's Basic credentials. Implementations
// must use a constant-time comparison.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, user, password string) (bool, error)
}

// LoginHandler exchanges Basic credentials for a session cookie.
type LoginHandler struct {
	sessions *SessionManager
	verifier PasswordVerifier
	secure   bool
	logger   *slog.Logger
}

// NewLoginHandler builds the login endpoint. secure controls the
// cookie Secure attribute and should be true behind TLS.
func NewLoginHandler(sessions *SessionManager, verifier PasswordVerifier, secure bool, logger *slog.Logger) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{sessions: sessions, verifier: verifier, secure: secure, logger: logger}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="relay"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	valid, err := h.verifier.VerifyPassword(r.Context(), user, password)
	if err != nil {
		h.logger.Error("password verification failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !valid {
		h.logger.Warn("login rejected",
			"user", user,
			"remote_addr", r.RemoteAddr,
		)
		w.Header().Set("WWW-Authenticate", `Basic realm="relay"`)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    h.sessions.Issue(user),
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Debug("login succeeded", "user", user)
	w.WriteHeader(http.StatusNoContent)
}
