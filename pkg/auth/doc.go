// Package auth implements Basic-auth login and signed session cookies.
//
// Login exchanges Basic credentials for an HMAC-SHA256 signed session
// cookie with an expiry baked into the signed payload. Middleware
// validates the cookie on every protected request, including WebSocket
// upgrade requests, and places the authenticated user on the request
// context for downstream handlers.
//
// The session token is self-contained: "user:expiry:signature" where
// the signature covers the user and expiry. No server-side session
// state is kept.
package auth
