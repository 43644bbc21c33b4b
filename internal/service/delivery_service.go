package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/audit"
	"github.com/casetrack/notify-gateway/internal/auth"
	"github.com/casetrack/notify-gateway/internal/domain"
	"github.com/casetrack/notify-gateway/internal/ratelimiter"
	"github.com/casetrack/notify-gateway/internal/registry"
	"github.com/casetrack/notify-gateway/internal/repository"
	"github.com/casetrack/notify-gateway/internal/security"
	"github.com/casetrack/notify-gateway/internal/transport"
)

// drainBatch bounds how many offline entries one drain pass will attempt.
// A recipient with a deeper backlog catches up over subsequent reconnects.
const drainBatch = 100

// Hooks carries the metric callback functions injected by main.
// Using a struct keeps the service constructor signature clean.
type Hooks struct {
	OnDelivered   func(latency time.Duration)
	OnQueued      func()
	OnFailed      func()
	OnRateLimited func()
	OnConnected   func()
}

func (h *Hooks) fillDefaults() {
	if h.OnDelivered == nil {
		h.OnDelivered = func(time.Duration) {}
	}
	if h.OnQueued == nil {
		h.OnQueued = func() {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func() {}
	}
	if h.OnRateLimited == nil {
		h.OnRateLimited = func() {}
	}
	if h.OnConnected == nil {
		h.OnConnected = func() {}
	}
}

// DeliveryService orchestrates the full delivery pipeline:
// validate → rate-limit → persist → seal → live push or offline queue →
// delivery status → audit. It is the only writer of delivery status records.
// HTTP handlers and the heartbeat monitor depend on this service, not on
// each other.
type DeliveryService struct {
	notifications repository.NotificationRepository
	statuses      repository.DeliveryStatusRepository
	offline       repository.OfflineQueueRepository
	limiter       *ratelimiter.RecipientLimiter
	reg           *registry.Registry
	sealer        security.Sealer
	authn         auth.Authenticator
	sink          audit.Sink
	logger        *zap.Logger
	hooks         Hooks

	retentionTTL      time.Duration
	retentionMax      int
	encryptAtPriority domain.Priority

	// One drain at a time per recipient within this process; keeps the
	// FIFO/exactly-once drain logic free of cross-goroutine races.
	drains sync.Map // recipientID → *sync.Mutex
}

type Options struct {
	RetentionTTL      time.Duration
	RetentionMax      int
	EncryptAtPriority domain.Priority
	Hooks             Hooks
}

func NewDeliveryService(
	notifications repository.NotificationRepository,
	statuses repository.DeliveryStatusRepository,
	offline repository.OfflineQueueRepository,
	limiter *ratelimiter.RecipientLimiter,
	reg *registry.Registry,
	sealer security.Sealer,
	authn auth.Authenticator,
	sink audit.Sink,
	logger *zap.Logger,
	opts Options,
) *DeliveryService {
	opts.Hooks.fillDefaults()
	return &DeliveryService{
		notifications:     notifications,
		statuses:          statuses,
		offline:           offline,
		limiter:           limiter,
		reg:               reg,
		sealer:            sealer,
		authn:             authn,
		sink:              sink,
		logger:            logger,
		hooks:             opts.Hooks,
		retentionTTL:      opts.RetentionTTL,
		retentionMax:      opts.RetentionMax,
		encryptAtPriority: opts.EncryptAtPriority,
	}
}

// Submit validates, rate-limits, persists and attempts delivery of a single
// notification. Rate-limit rejection is total: nothing is persisted and the
// caller must not retry synchronously. Once persistence succeeds the
// submitter's contract is "accepted for delivery"; transport failures past
// that point fall back to the offline queue and are not surfaced here.
func (s *DeliveryService) Submit(ctx context.Context, req domain.SubmitRequest) (string, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return "", err
	}

	if !s.limiter.TryConsume(req.RecipientID) {
		s.hooks.OnRateLimited()
		s.sink.Record(audit.Event{
			Action:      audit.ActionRateLimited,
			RecipientID: req.RecipientID,
		})
		return "", domain.ErrRateLimited
	}

	now := time.Now().UTC()
	n := &domain.Notification{
		ID:               uuid.New().String(),
		RecipientID:      req.RecipientID,
		Type:             req.Type,
		Priority:         req.Priority,
		Title:            req.Title,
		Message:          req.Message,
		Metadata:         req.Metadata,
		SensitivePayload: req.SensitivePayload,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.retentionTTL),
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		return "", fmt.Errorf("persist notification: %w", err)
	}
	s.sink.Record(audit.Event{
		Action:         audit.ActionNotificationCreated,
		RecipientID:    n.RecipientID,
		NotificationID: n.ID,
	})

	// Count-bounded FIFO eviction runs opportunistically on the write path;
	// the reaper covers recipients that only ever receive while offline.
	if _, err := s.notifications.EnforceRetention(ctx, n.RecipientID, s.retentionMax); err != nil {
		s.logger.Warn("retention sweep failed",
			zap.String("recipient_id", n.RecipientID), zap.Error(err))
	}

	payload, err := s.buildPayload(n)
	if err != nil {
		s.hooks.OnFailed()
		s.sink.Record(audit.Event{
			Action:         audit.ActionDeliveryFailed,
			RecipientID:    n.RecipientID,
			NotificationID: n.ID,
			Channel:        domain.ChannelPush,
			Error:          err.Error(),
		})
		return "", err
	}

	delivered := s.reg.Broadcast(n.RecipientID, payload)
	if delivered > 0 {
		if err := s.statuses.Record(ctx, &domain.DeliveryStatus{
			NotificationID: n.ID,
			Channel:        domain.ChannelPush,
			State:          domain.DeliveryDelivered,
			Attempts:       1,
			LastAttempt:    time.Now().UTC(),
		}); err != nil {
			s.logger.Error("record delivered status", zap.String("id", n.ID), zap.Error(err))
		}
		s.sink.Record(audit.Event{
			Action:         audit.ActionDeliverySucceeded,
			RecipientID:    n.RecipientID,
			NotificationID: n.ID,
			Channel:        domain.ChannelPush,
		})
		s.hooks.OnDelivered(time.Since(start))
		return n.ID, nil
	}

	// No live connection, or every push failed: park it durably.
	if err := s.offline.Enqueue(ctx, n.RecipientID, n.ID, n.ExpiresAt); err != nil {
		return "", fmt.Errorf("enqueue offline: %w", err)
	}
	if err := s.statuses.Record(ctx, &domain.DeliveryStatus{
		NotificationID: n.ID,
		Channel:        domain.ChannelPush,
		State:          domain.DeliveryPending,
		Attempts:       1,
		LastAttempt:    time.Now().UTC(),
	}); err != nil {
		s.logger.Error("record pending status", zap.String("id", n.ID), zap.Error(err))
	}
	s.sink.Record(audit.Event{
		Action:         audit.ActionDeliveryAttempted,
		RecipientID:    n.RecipientID,
		NotificationID: n.ID,
		Channel:        domain.ChannelPush,
	})
	s.hooks.OnQueued()
	return n.ID, nil
}

// MarkRead acknowledges a notification for its recipient. Idempotent: a
// second call is a no-op, not an error.
func (s *DeliveryService) MarkRead(ctx context.Context, id, recipientID string) error {
	if id == "" || recipientID == "" {
		return domain.ErrInvalidInput
	}
	if err := s.notifications.MarkRead(ctx, id, recipientID); err != nil {
		return err
	}
	s.sink.Record(audit.Event{
		Action:         audit.ActionNotificationRead,
		RecipientID:    recipientID,
		NotificationID: id,
	})
	return nil
}

// Connect authenticates the token, registers the connection and drains the
// recipient's offline backlog over it.
func (s *DeliveryService) Connect(ctx context.Context, token string, tc transport.Conn) (*registry.Connection, error) {
	recipientID, err := s.authn.Authenticate(token)
	if err != nil {
		return nil, err
	}

	c := registry.NewConnection(uuid.New().String(), recipientID, tc)
	if err := s.reg.Register(c); err != nil {
		s.sink.Record(audit.Event{
			Action:      audit.ActionConnectionRejected,
			RecipientID: recipientID,
			Error:       err.Error(),
		})
		return nil, err
	}

	s.sink.Record(audit.Event{
		Action:      audit.ActionConnectionOpened,
		RecipientID: recipientID,
	})
	s.hooks.OnConnected()

	if err := s.DrainOffline(ctx, recipientID); err != nil {
		// The connection is healthy even if the drain hit a store error;
		// the backlog is retried on the next connect.
		s.logger.Warn("offline drain failed on connect",
			zap.String("recipient_id", recipientID), zap.Error(err))
	}

	return c, nil
}

// Disconnect removes the connection from the registry and closes its
// transport. Safe to call for a connection that is already gone.
func (s *DeliveryService) Disconnect(c *registry.Connection) {
	if s.reg.Unregister(c.RecipientID, c.ID, registry.CauseDisconnect) {
		_ = c.Close()
	}
}

// DrainOffline pushes the recipient's queued notifications in FIFO order
// over whatever live connections exist now. Each entry is removed only after
// a successful push, and the status flip is a conditional PENDING→DELIVERED,
// so an entry is never delivered twice. Entries whose push fails stay queued
// until their TTL expires; there is no unbounded retry.
func (s *DeliveryService) DrainOffline(ctx context.Context, recipientID string) error {
	mu, _ := s.drains.LoadOrStore(recipientID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.offline.Pending(ctx, recipientID, drainBatch)
	if err != nil {
		return fmt.Errorf("load offline entries: %w", err)
	}

	for _, e := range entries {
		n, err := s.notifications.GetByID(ctx, e.NotificationID)
		if errors.Is(err, domain.ErrNotFound) {
			// Expired or evicted while queued; the entry is dead weight.
			if err := s.offline.Remove(ctx, e.ID); err != nil {
				return fmt.Errorf("drop stale entry: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("load notification %s: %w", e.NotificationID, err)
		}

		payload, err := s.buildPayload(n)
		if err != nil {
			s.logger.Error("seal queued notification",
				zap.String("id", n.ID), zap.Error(err))
			continue
		}

		if s.reg.Broadcast(recipientID, payload) == 0 {
			// The connection died mid-drain; the rest of the backlog waits
			// for the next connect.
			if err := s.statuses.RecordAttempt(ctx, n.ID, domain.ChannelPush, "no live connection"); err != nil {
				s.logger.Error("record drain attempt", zap.String("id", n.ID), zap.Error(err))
			}
			return nil
		}

		transitioned, err := s.statuses.MarkDelivered(ctx, n.ID, domain.ChannelPush, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		if err := s.offline.Remove(ctx, e.ID); err != nil {
			return fmt.Errorf("remove delivered entry: %w", err)
		}
		if transitioned {
			s.sink.Record(audit.Event{
				Action:         audit.ActionDeliverySucceeded,
				RecipientID:    recipientID,
				NotificationID: n.ID,
				Channel:        domain.ChannelPush,
			})
		}
	}
	return nil
}

// Get returns a stored notification.
func (s *DeliveryService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

// DeliveryStatus returns the push-channel delivery record for a notification.
func (s *DeliveryService) DeliveryStatus(ctx context.Context, id string) (*domain.DeliveryStatus, error) {
	return s.statuses.Get(ctx, id, domain.ChannelPush)
}

// ListUnread returns the recipient's unread backlog, newest first.
func (s *DeliveryService) ListUnread(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	return s.notifications.ListUnread(ctx, recipientID, limit)
}

// pushEnvelope is the wire frame handed to the transport. Body holds the
// serialized notification, or its ciphertext when Encrypted is set; the
// signature always covers Body as transmitted.
type pushEnvelope struct {
	Encrypted bool   `json:"encrypted"`
	Body      []byte `json:"body"`
	Signature []byte `json:"signature,omitempty"`
}

func (s *DeliveryService) buildPayload(n *domain.Notification) ([]byte, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	encrypted := len(n.SensitivePayload) > 0 || n.Priority.AtLeast(s.encryptAtPriority)
	if encrypted {
		body, err = s.sealer.Encrypt(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEncryptionFailed, err)
		}
	}

	sig, err := s.sealer.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", domain.ErrEncryptionFailed, err)
	}

	payload, err := json.Marshal(pushEnvelope{Encrypted: encrypted, Body: body, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, nil
}
