// Package registry tracks the live push connections per recipient. It is the
// single shared mutable map in the system; recipients are spread across
// shards so concurrent connection handlers for unrelated recipients never
// serialize on one lock.
package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/casetrack/notify-gateway/internal/domain"
)

const shardCount = 32

type shard struct {
	mu          sync.RWMutex
	byRecipient map[string]map[string]*Connection
}

// RemoveCause says why a connection left the registry.
type RemoveCause string

const (
	CauseDisconnect RemoveCause = "disconnect"
	CausePushFailed RemoveCause = "push_failed"
	CauseHeartbeat  RemoveCause = "heartbeat_timeout"
)

// Registry is safe for concurrent use.
type Registry struct {
	maxPerRecipient int
	writeTimeout    time.Duration
	shards          [shardCount]*shard

	// onRemove fires exactly once per actual removal, never for idempotent
	// re-removal. Used by the wiring layer for audit and metrics.
	onRemove func(c *Connection, cause RemoveCause)
}

func New(maxPerRecipient int, writeTimeout time.Duration, onRemove func(*Connection, RemoveCause)) *Registry {
	if onRemove == nil {
		onRemove = func(*Connection, RemoveCause) {}
	}
	r := &Registry{
		maxPerRecipient: maxPerRecipient,
		writeTimeout:    writeTimeout,
		onRemove:        onRemove,
	}
	for i := range r.shards {
		r.shards[i] = &shard{byRecipient: make(map[string]map[string]*Connection)}
	}
	return r
}

// Register admits the connection unless the recipient already holds the
// maximum number of live connections.
func (r *Registry) Register(c *Connection) error {
	s := r.shardFor(c.RecipientID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.byRecipient[c.RecipientID]
	if len(conns) >= r.maxPerRecipient {
		return domain.ErrConnectionLimitExceeded
	}
	if conns == nil {
		conns = make(map[string]*Connection)
		s.byRecipient[c.RecipientID] = conns
	}
	conns[c.ID] = c
	return nil
}

// Unregister removes the connection if present. Removal of an absent
// connection is a no-op. Returns whether a connection was actually removed.
func (r *Registry) Unregister(recipientID, connID string, cause RemoveCause) bool {
	s := r.shardFor(recipientID)

	s.mu.Lock()
	conns := s.byRecipient[recipientID]
	c, ok := conns[connID]
	if ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(s.byRecipient, recipientID)
		}
	}
	s.mu.Unlock()

	if ok {
		r.onRemove(c, cause)
	}
	return ok
}

// Lookup returns the recipient's current live connections, possibly empty.
func (r *Registry) Lookup(recipientID string) []*Connection {
	s := r.shardFor(recipientID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.byRecipient[recipientID]
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Broadcast pushes payload to every live connection for the recipient and
// returns how many accepted it. A failed push is treated as evidence of
// death: that connection is removed and closed, and delivery continues to
// the rest.
func (r *Registry) Broadcast(recipientID string, payload []byte) int {
	deadline := time.Now().Add(r.writeTimeout)
	delivered := 0

	for _, c := range r.Lookup(recipientID) {
		if err := c.Send(payload, deadline); err != nil {
			if r.Unregister(recipientID, c.ID, CausePushFailed) {
				_ = c.Close()
			}
			continue
		}
		delivered++
	}
	return delivered
}

// ForEach calls fn for a snapshot of every registered connection. fn runs
// outside any shard lock, so it may call back into the registry.
func (r *Registry) ForEach(fn func(*Connection)) {
	for _, s := range r.shards {
		s.mu.RLock()
		snapshot := make([]*Connection, 0)
		for _, conns := range s.byRecipient {
			for _, c := range conns {
				snapshot = append(snapshot, c)
			}
		}
		s.mu.RUnlock()

		for _, c := range snapshot {
			fn(c)
		}
	}
}

// Size returns the total number of registered connections.
func (r *Registry) Size() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conns := range s.byRecipient {
			total += len(conns)
		}
		s.mu.RUnlock()
	}
	return total
}

func (r *Registry) shardFor(recipientID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(recipientID))
	return r.shards[h.Sum32()%shardCount]
}
