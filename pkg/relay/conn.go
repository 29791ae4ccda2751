package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle of one multiplexed connection.
type State int32

const (
	// StateAccepted means the socket is upgraded but the caller's
	// identity is not yet established.
	StateAccepted State = iota
	// StateRunning means frames are being read and transactions spawned.
	StateRunning
	// StateDraining means the peer is gone and outstanding transactions
	// are being cancelled.
	StateDraining
	// StateClosed means every transaction has observed its cancellation.
	StateClosed
)

// writeWait bounds a single frame write so one stuck peer cannot pin a
// transaction goroutine forever.
const writeWait = 10 * time.Second

// conn wraps one WebSocket connection with the shared write lock.
// Concurrent writers must never interleave partial frames, so every
// outbound frame goes through send.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   State
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, state: StateAccepted}
}

// setState advances the connection lifecycle.
func (c *conn) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the current lifecycle state.
func (c *conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// send writes one frame under the connection write lock.
func (c *conn) send(resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(resp)
}

// closeAbnormal sends a close frame with the given code and tears the
// socket down. Used for the fail-fast upstream error policy.
func (c *conn) closeAbnormal(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	c.ws.Close()
}
