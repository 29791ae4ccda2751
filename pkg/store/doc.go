// Package store persists users, upstream credentials, and chat
// history in SQLite.
//
// The store backs three concerns:
//
//   - account credentials, verified with bcrypt at login
//   - per-user OpenRouter tokens, resolved by the chat paths
//   - conversation turns, appended after each stateful exchange
//
// Token lookup is on the hot path of every chat transaction, so a
// missing token is reported as an empty string rather than an error.
// A retention pruner deletes conversations idle past a configured age.
package store
