package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla WebSocket connection to the Conn interface.
// gorilla permits at most one concurrent writer, so all writes (data and
// control frames) are serialized behind a mutex.
type WSConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Send(payload []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSConn) Ping(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *WSConn) Close() error {
	return c.ws.Close()
}

// Underlying exposes the raw socket for the read loop and pong handler.
func (c *WSConn) Underlying() *websocket.Conn { return c.ws }

var _ Conn = (*WSConn)(nil)
