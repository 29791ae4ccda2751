package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "session"

// DefaultSessionTTL is used when no TTL is configured.
const DefaultSessionTTL = 24 * time.Hour

var (
	// ErrInvalidToken indicates a malformed or tampered session token.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken indicates a well-formed token past its expiry.
	ErrExpiredToken = errors.New("expired session token")
)

// SessionManager issues and verifies signed session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration

	// now is swapped in tests.
	now func() time.Time
}

// NewSessionManager creates a manager signing with the given secret.
func NewSessionManager(secret []byte, ttl time.Duration) (*SessionManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for the user.
func (m *SessionManager) Issue(user string) string {
	expiry := m.now().Add(m.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", user, expiry)
	return payload + ":" + m.sign(payload)
}

// Verify checks the token signature and expiry and returns the user.
func (m *SessionManager) Verify(token string) (string, error) {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return "", ErrInvalidToken
	}
	payload, sig := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(m.sign(payload))) {
		return "", ErrInvalidToken
	}

	sep := strings.LastIndex(payload, ":")
	if sep < 0 {
		return "", ErrInvalidToken
	}
	user := payload[:sep]
	expiry, err := strconv.ParseInt(payload[sep+1:], 10, 64)
	if err != nil || user == "" {
		return "", ErrInvalidToken
	}
	if m.now().Unix() >= expiry {
		return "", ErrExpiredToken
	}
	return user, nil
}

// TTL reports the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

func (m *SessionManager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
