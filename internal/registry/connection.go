package registry

import (
	"sync"
	"time"

	"github.com/casetrack/notify-gateway/internal/transport"
)

// Connection pairs a transport channel with its liveness bookkeeping.
// It is created on successful authenticated connect and never outlives the
// underlying transport.
type Connection struct {
	ID            string
	RecipientID   string
	EstablishedAt time.Time

	conn transport.Conn

	mu         sync.Mutex
	lastPongAt time.Time
	alive      bool
}

func NewConnection(id, recipientID string, conn transport.Conn) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:            id,
		RecipientID:   recipientID,
		EstablishedAt: now,
		conn:          conn,
		lastPongAt:    now,
		alive:         true,
	}
}

// MarkAlive records a liveness response. Wired into the transport's pong
// handler.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.lastPongAt = time.Now().UTC()
	c.mu.Unlock()
}

// BeginProbe flips the liveness flag to false and reports the previous value.
// A connection that was already false failed the prior probe cycle.
func (c *Connection) BeginProbe() (wasAlive bool) {
	c.mu.Lock()
	wasAlive = c.alive
	c.alive = false
	c.mu.Unlock()
	return wasAlive
}

// LastPongAt returns the time of the most recent liveness response.
func (c *Connection) LastPongAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPongAt
}

func (c *Connection) Send(payload []byte, deadline time.Time) error {
	return c.conn.Send(payload, deadline)
}

func (c *Connection) Ping(deadline time.Time) error {
	return c.conn.Ping(deadline)
}

func (c *Connection) Close() error {
	return c.conn.Close()
}
