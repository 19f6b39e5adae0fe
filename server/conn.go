package server

import (
	"sync"

	"github.com/gorilla/websocket"
)

// conn wraps one client websocket. Gorilla connections allow a single
// concurrent writer, so every write goes through the mutex: the command loop
// replies and the relay's fan-out goroutine push on the same socket.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{id: id, ws: ws}
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}
