// Package metrics exposes Prometheus collectors for the relay: client
// pool occupancy and traffic, and WebSocket connection/transaction
// activity. Collectors are registered on a per-instance registry so
// tests can run multiple relays side by side.
package metrics
