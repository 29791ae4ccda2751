// Package relay turns one authenticated WebSocket connection into many
// concurrent chat transactions.
//
// Each inbound frame names a transaction and carries one user message;
// the relay fans transactions out to goroutines that stream completion
// fragments back, tagged with the transaction id so the peer can
// demultiplex. All writes on a connection are serialized through a
// single write lock: two transactions' frames may interleave with each
// other, but a single transaction's frames always arrive in upstream
// chunk order and no frame is ever split.
//
// Wire protocol (JSON text frames):
//
//	-> {"transaction_id": "t1", "message": "hi", "model": "...", "history": [{"role": "user", "content": "..."}]}
//	<- {"transaction_id": "t1", "fragment": "partial text", "finished": false}
//	<- {"transaction_id": "t1", "fragment": "", "finished": true}
//
// Disconnecting cancels every transaction on the connection; the relay
// waits for all of them to observe the cancellation before the
// connection is considered closed.
package relay
