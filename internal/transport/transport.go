// Package transport abstracts the wire-level push channel. The delivery core
// decides what and when to send; implementations own the protocol.
package transport

import "time"

// Conn is a single open push channel to one client. Implementations must be
// safe for concurrent use: broadcasts and heartbeat probes run from
// different goroutines.
type Conn interface {
	// Send writes payload to the client, failing once deadline passes.
	// Any error means the connection should be presumed dead.
	Send(payload []byte, deadline time.Time) error

	// Ping sends a liveness probe. The transport's answer handler is
	// responsible for reporting the response to whoever registered it.
	Ping(deadline time.Time) error

	Close() error
}
