// Package heartbeat runs the connection liveness protocol: every interval,
// connections that failed the previous probe are reclaimed and the rest are
// probed again. Probes are control frames only and never carry notification
// payloads.
package heartbeat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/registry"
)

// Monitor is the single background task probing all open connections.
type Monitor struct {
	reg      *registry.Registry
	interval time.Duration
	logger   *zap.Logger
	onEvict  func()
}

// NewMonitor constructs the monitor. onEvict is an optional metrics hook,
// invoked once per reclaimed connection (nil = no-op).
func NewMonitor(reg *registry.Registry, interval time.Duration, logger *zap.Logger, onEvict func()) *Monitor {
	if onEvict == nil {
		onEvict = func() {}
	}
	return &Monitor{reg: reg, interval: interval, logger: logger, onEvict: onEvict}
}

// Run blocks until ctx is cancelled, performing one sweep per interval.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("heartbeat monitor started", zap.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopping")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one probe cycle over every registered connection: a
// connection that never answered the previous probe is evicted; the rest are
// marked unanswered and probed. The transport's pong handler flips the flag
// back via Connection.MarkAlive.
func (m *Monitor) Sweep() {
	deadline := time.Now().Add(m.interval)

	m.reg.ForEach(func(c *registry.Connection) {
		if !c.BeginProbe() {
			m.evict(c, "missed probe")
			return
		}
		if err := c.Ping(deadline); err != nil {
			m.evict(c, err.Error())
		}
	})
}

func (m *Monitor) evict(c *registry.Connection, reason string) {
	if m.reg.Unregister(c.RecipientID, c.ID, registry.CauseHeartbeat) {
		_ = c.Close()
		m.onEvict()
		m.logger.Info("connection reclaimed",
			zap.String("recipient_id", c.RecipientID),
			zap.String("connection_id", c.ID),
			zap.String("reason", reason),
			zap.Time("last_pong_at", c.LastPongAt()),
		)
	}
}
