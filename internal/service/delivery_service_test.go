package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/audit"
	"github.com/casetrack/notify-gateway/internal/auth"
	"github.com/casetrack/notify-gateway/internal/domain"
	"github.com/casetrack/notify-gateway/internal/heartbeat"
	"github.com/casetrack/notify-gateway/internal/ratelimiter"
	"github.com/casetrack/notify-gateway/internal/registry"
	"github.com/casetrack/notify-gateway/internal/repository"
	"github.com/casetrack/notify-gateway/internal/security"
	"github.com/casetrack/notify-gateway/internal/service"
)

// fakeConn is an in-memory transport.Conn recording every delivered payload.
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	pongs   bool
}

func (f *fakeConn) Send(payload []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Ping(_ time.Time) error { return nil }
func (f *fakeConn) Close() error           { return nil }

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) lastPayload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// capturingSink records audit events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *capturingSink) Record(e audit.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *capturingSink) actions() []audit.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.Action, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	svc           *service.DeliveryService
	notifications *repository.MockNotificationRepository
	statuses      *repository.MockDeliveryStatusRepository
	offline       *repository.MockOfflineQueueRepository
	reg           *registry.Registry
	authn         *auth.HMACAuthenticator
	sink          *capturingSink
}

func newFixture(rateMax, retentionMax int) *fixture {
	sink := &capturingSink{}
	reg := registry.New(3, time.Second, nil)
	authn := auth.NewHMACAuthenticator([]byte("test-secret"))
	notifications := repository.NewMockNotificationRepository()
	statuses := repository.NewMockDeliveryStatusRepository()
	offline := repository.NewMockOfflineQueueRepository()

	svc := service.NewDeliveryService(
		notifications, statuses, offline,
		ratelimiter.New(rateMax, time.Hour),
		reg,
		security.NopSealer{},
		authn,
		sink,
		zap.NewNop(),
		service.Options{
			RetentionTTL:      7 * 24 * time.Hour,
			RetentionMax:      retentionMax,
			EncryptAtPriority: domain.PriorityHigh,
		},
	)

	return &fixture{
		svc: svc, notifications: notifications, statuses: statuses,
		offline: offline, reg: reg, authn: authn, sink: sink,
	}
}

var validReq = domain.SubmitRequest{
	RecipientID: "u1",
	Type:        domain.TypeAlertTriggered,
	Priority:    domain.PriorityMedium,
	Title:       "Keyword hit",
	Message:     "Watchlist keyword matched in case C-23",
}

func TestSubmit_PersistsAndIsRetrievable(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	id, err := fx.svc.Submit(ctx, validReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty ID")
	}

	n, err := fx.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.RecipientID != validReq.RecipientID || n.Type != validReq.Type || n.Title != validReq.Title {
		t.Fatalf("stored record does not match submission: %+v", n)
	}
	if n.Read || n.AcknowledgedAt != nil {
		t.Fatal("new notification must start unread")
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	fx := newFixture(100, 1000)

	bad := validReq
	bad.RecipientID = ""
	if _, err := fx.svc.Submit(context.Background(), bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSubmit_RateLimitRejectionIsTotal(t *testing.T) {
	const max = 3
	fx := newFixture(max, 1000)
	ctx := context.Background()

	var ids []string
	for i := 0; i < max; i++ {
		id, err := fx.svc.Submit(ctx, validReq)
		if err != nil {
			t.Fatalf("submission %d: unexpected error: %v", i, err)
		}
		ids = append(ids, id)
	}

	for i := 0; i < 2; i++ {
		if _, err := fx.svc.Submit(ctx, validReq); !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited past the window, got %v", err)
		}
	}

	// Rejected submissions were never persisted.
	count, _ := fx.notifications.CountByRecipient(ctx, "u1")
	if count != max {
		t.Fatalf("expected %d stored notifications, got %d", max, count)
	}
	for _, id := range ids {
		if _, err := fx.svc.Get(ctx, id); err != nil {
			t.Fatalf("accepted notification %s must remain retrievable: %v", id, err)
		}
	}

	found := false
	for _, a := range fx.sink.actions() {
		if a == audit.ActionRateLimited {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a RATE_LIMITED audit event")
	}
}

func TestSubmit_OfflineRecipientQueuesPending(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	id, err := fx.svc.Submit(ctx, validReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := fx.svc.DeliveryStatus(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.State != domain.DeliveryPending {
		t.Fatalf("expected PENDING, got %s", st.State)
	}
	if st.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", st.Attempts)
	}
	if st.Error != nil {
		t.Fatalf("expected no error on a pending record, got %q", *st.Error)
	}

	entries, _ := fx.offline.Pending(ctx, "u1", 10)
	if len(entries) != 1 || entries[0].NotificationID != id {
		t.Fatalf("expected the notification queued offline, got %+v", entries)
	}
}

func TestConnect_DrainsOfflineBacklogExactlyOnce(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	id, err := fx.svc.Submit(ctx, validReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := &fakeConn{}
	token := fx.authn.IssueToken("u1", time.Minute)
	c, err := fx.svc.Connect(ctx, token, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fx.svc.Disconnect(c)

	if f.sentCount() != 1 {
		t.Fatalf("expected exactly one push on drain, got %d", f.sentCount())
	}

	st, _ := fx.svc.DeliveryStatus(ctx, id)
	if st.State != domain.DeliveryDelivered {
		t.Fatalf("expected DELIVERED after drain, got %s", st.State)
	}
	if st.Attempts != 1 {
		t.Fatalf("expected attempts=1 after drain, got %d", st.Attempts)
	}

	// A second drain has nothing left to deliver.
	if err := fx.svc.DrainOffline(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.sentCount() != 1 {
		t.Fatalf("expected no duplicate delivery, got %d pushes", f.sentCount())
	}
	depth, _ := fx.offline.Depth(ctx)
	if depth != 0 {
		t.Fatalf("expected empty offline queue, depth=%d", depth)
	}
}

func TestSubmit_ConnectedRecipientDeliversImmediately(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	f := &fakeConn{}
	token := fx.authn.IssueToken("u2", time.Minute)
	c, err := fx.svc.Connect(ctx, token, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fx.svc.Disconnect(c)

	req := validReq
	req.RecipientID = "u2"
	id, err := fx.svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.sentCount() != 1 {
		t.Fatalf("expected an immediate push, got %d", f.sentCount())
	}
	st, _ := fx.svc.DeliveryStatus(ctx, id)
	if st.State != domain.DeliveryDelivered || st.Attempts != 1 {
		t.Fatalf("expected DELIVERED with attempts=1, got %+v", st)
	}
	depth, _ := fx.offline.Depth(ctx)
	if depth != 0 {
		t.Fatalf("expected no offline entry for a live recipient, depth=%d", depth)
	}
}

func TestSubmit_AllPushesFailFallsBackToQueue(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	f := &fakeConn{sendErr: errors.New("broken pipe")}
	token := fx.authn.IssueToken("u3", time.Minute)
	if _, err := fx.svc.Connect(ctx, token, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := validReq
	req.RecipientID = "u3"
	id, err := fx.svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("transport failure must not surface to the submitter: %v", err)
	}

	st, _ := fx.svc.DeliveryStatus(ctx, id)
	if st.State != domain.DeliveryPending {
		t.Fatalf("expected PENDING fallback, got %s", st.State)
	}
	// The dead connection was reaped by the failed broadcast.
	if got := len(fx.reg.Lookup("u3")); got != 0 {
		t.Fatalf("expected dead connection removed, got %d", got)
	}
}

func TestConnect_EnforcesConnectionCap(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()
	token := fx.authn.IssueToken("u1", time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := fx.svc.Connect(ctx, token, &fakeConn{}); err != nil {
			t.Fatalf("connection %d: unexpected error: %v", i, err)
		}
	}

	if _, err := fx.svc.Connect(ctx, token, &fakeConn{}); !errors.Is(err, domain.ErrConnectionLimitExceeded) {
		t.Fatalf("expected ErrConnectionLimitExceeded, got %v", err)
	}
	if got := len(fx.reg.Lookup("u1")); got != 3 {
		t.Fatalf("Lookup must never exceed the cap, got %d", got)
	}
}

func TestConnect_RejectsBadToken(t *testing.T) {
	fx := newFixture(100, 1000)
	if _, err := fx.svc.Connect(context.Background(), "garbage", &fakeConn{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMarkRead_IsIdempotent(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	id, _ := fx.svc.Submit(ctx, validReq)

	if err := fx.svc.MarkRead(ctx, id, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := fx.svc.Get(ctx, id)
	if !first.Read || first.AcknowledgedAt == nil {
		t.Fatal("expected read=true with acknowledged_at set")
	}

	if err := fx.svc.MarkRead(ctx, id, "u1"); err != nil {
		t.Fatalf("second MarkRead must be a no-op, got %v", err)
	}
	second, _ := fx.svc.Get(ctx, id)
	if !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Fatal("acknowledged_at must not change on repeated MarkRead")
	}
}

func TestMarkRead_WrongRecipient(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	id, _ := fx.svc.Submit(ctx, validReq)
	if err := fx.svc.MarkRead(ctx, id, "intruder"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a foreign recipient, got %v", err)
	}
}

func TestSubmit_RetentionCapEvictsOldest(t *testing.T) {
	const maxKeep = 5
	fx := newFixture(1000, maxKeep)
	ctx := context.Background()

	var ids []string
	for i := 0; i < maxKeep+2; i++ {
		req := validReq
		req.Title = fmt.Sprintf("notification %d", i)
		id, err := fx.svc.Submit(ctx, req)
		if err != nil {
			t.Fatalf("submission %d: unexpected error: %v", i, err)
		}
		ids = append(ids, id)
		time.Sleep(time.Millisecond) // distinct created_at ordering
	}

	for i := 0; i < 2; i++ {
		if _, err := fx.svc.Get(ctx, ids[i]); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected oldest notification %d evicted, got %v", i, err)
		}
	}
	for i := 2; i < maxKeep+2; i++ {
		if _, err := fx.svc.Get(ctx, ids[i]); err != nil {
			t.Fatalf("expected notification %d retained, got %v", i, err)
		}
	}
}

func TestHeartbeatTimeout_SubsequentSubmitQueues(t *testing.T) {
	fx := newFixture(100, 1000)
	ctx := context.Background()

	f := &fakeConn{}
	token := fx.authn.IssueToken("u1", time.Minute)
	if _, err := fx.svc.Connect(ctx, token, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two silent heartbeat cycles: probe, then reclaim.
	m := heartbeat.NewMonitor(fx.reg, 30*time.Second, zap.NewNop(), nil)
	m.Sweep()
	m.Sweep()

	if got := len(fx.reg.Lookup("u1")); got != 0 {
		t.Fatalf("expected connection reclaimed, got %d", got)
	}

	id, err := fx.svc.Submit(ctx, validReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := fx.svc.DeliveryStatus(ctx, id)
	if st.State != domain.DeliveryPending {
		t.Fatalf("expected PENDING after heartbeat eviction, got %s", st.State)
	}
}

func TestSubmit_SealsSensitiveAndHighPriorityPayloads(t *testing.T) {
	key := make([]byte, 32)
	sealer, err := security.NewAESSealer(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink := &capturingSink{}
	reg := registry.New(3, time.Second, nil)
	authn := auth.NewHMACAuthenticator([]byte("test-secret"))
	svc := service.NewDeliveryService(
		repository.NewMockNotificationRepository(),
		repository.NewMockDeliveryStatusRepository(),
		repository.NewMockOfflineQueueRepository(),
		ratelimiter.New(100, time.Hour),
		reg, sealer, authn, sink, zap.NewNop(),
		service.Options{
			RetentionTTL:      7 * 24 * time.Hour,
			RetentionMax:      1000,
			EncryptAtPriority: domain.PriorityHigh,
		},
	)
	ctx := context.Background()

	f := &fakeConn{}
	c, err := svc.Connect(ctx, authn.IssueToken("u1", time.Minute), f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.Disconnect(c)

	type envelope struct {
		Encrypted bool   `json:"encrypted"`
		Body      []byte `json:"body"`
		Signature []byte `json:"signature"`
	}

	push := func(req domain.SubmitRequest) envelope {
		t.Helper()
		if _, err := svc.Submit(ctx, req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var env envelope
		if err := json.Unmarshal(f.lastPayload(), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return env
	}

	t.Run("medium priority stays plaintext", func(t *testing.T) {
		env := push(validReq)
		if env.Encrypted {
			t.Fatal("expected plaintext body below the priority threshold")
		}
		if len(env.Signature) == 0 {
			t.Fatal("expected every envelope to be signed")
		}
		if !sealer.Verify(env.Body, env.Signature) {
			t.Fatal("expected a valid signature over the body")
		}
	})

	t.Run("urgent priority is encrypted", func(t *testing.T) {
		req := validReq
		req.Priority = domain.PriorityUrgent
		env := push(req)
		if !env.Encrypted {
			t.Fatal("expected encryption at or above the threshold")
		}
		if _, err := sealer.Decrypt(env.Body); err != nil {
			t.Fatalf("body must decrypt with the seal key: %v", err)
		}
	})

	t.Run("sensitive payload is encrypted regardless of priority", func(t *testing.T) {
		req := validReq
		req.Priority = domain.PriorityLow
		req.SensitivePayload = []byte("opaque ciphertext from the evidence vault")
		env := push(req)
		if !env.Encrypted {
			t.Fatal("expected encryption for sensitive payloads")
		}
	})
}

func TestSubmit_StoreFailureIsHardError(t *testing.T) {
	fx := newFixture(100, 1000)
	fx.notifications.CreateErr = errors.New("connection refused")

	if _, err := fx.svc.Submit(context.Background(), validReq); err == nil {
		t.Fatal("expected a durability error to propagate")
	}
	depth, _ := fx.offline.Depth(context.Background())
	if depth != 0 {
		t.Fatalf("failed submit must leave no queue entry, depth=%d", depth)
	}
}
