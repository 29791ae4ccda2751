// Package server wires the HTTP surface of the relay.
//
// Routes:
//
//	POST   /login                   exchange Basic credentials for a session
//	PUT    /auth/openrouter-token   store the caller's OpenRouter token
//	DELETE /auth/openrouter-token   remove the stored token
//	POST   /chat                    one-shot chat completion
//	POST   /chat/state              stateful chat, turns persisted
//	GET    /ws/chat                 WebSocket chat multiplexer
//	GET    /health                  liveness probe
//	GET    /metrics                 Prometheus exposition (optional)
//
// Everything except /login, /health, and /metrics requires a valid
// session cookie. The middleware chain is recovery, request id, then
// logging, outermost first.
package server
