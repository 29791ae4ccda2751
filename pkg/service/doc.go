// Package service manages a bounded pool of openrouter clients keyed
// by API key, and is the per-request entry point used by the chat
// relay and HTTP handlers.
//
// The pool gives every caller, for a given key, the illusion of a
// single long-lived client while bounding the number of concurrently
// open clients. Least-recently-used clients are evicted when the pool
// is full, and Shutdown drains in-flight calls before closing the
// remaining clients.
//
// Every upstream error crossing the service boundary is collapsed into
// one of two categories: TimeoutError (retry later) or BadGatewayError
// (upstream is broken). Nothing above this package needs to know about
// HTTP status codes.
package service
