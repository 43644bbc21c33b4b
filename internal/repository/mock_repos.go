package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/casetrack/notify-gateway/internal/domain"
)

// Hand-written, in-memory implementations of the three repositories used in
// unit tests. No mock-generation library needed.

type mockRecord struct {
	n   domain.Notification
	seq int64 // insertion order, breaks created_at ties for eviction
}

// MockNotificationRepository is an in-memory NotificationRepository.
type MockNotificationRepository struct {
	mu      sync.RWMutex
	records map[string]*mockRecord
	nextSeq int64

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr   error
	GetByIDErr  error
	MarkReadErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{records: make(map[string]*mockRecord)}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	m.records[n.ID] = &mockRecord{n: *n, seq: m.nextSeq}
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok || !rec.n.ExpiresAt.After(time.Now()) {
		return nil, domain.ErrNotFound
	}
	clone := rec.n
	return &clone, nil
}

func (m *MockNotificationRepository) MarkRead(_ context.Context, id, recipientID string) error {
	if m.MarkReadErr != nil {
		return m.MarkReadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.n.RecipientID != recipientID || !rec.n.ExpiresAt.After(time.Now()) {
		return domain.ErrNotFound
	}
	if !rec.n.Read {
		now := time.Now().UTC()
		rec.n.Read = true
		rec.n.AcknowledgedAt = &now
	}
	return nil
}

func (m *MockNotificationRepository) ListUnread(_ context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	for _, rec := range m.records {
		if rec.n.RecipientID == recipientID && !rec.n.Read && rec.n.ExpiresAt.After(time.Now()) {
			clone := rec.n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockNotificationRepository) CountByRecipient(_ context.Context, recipientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, rec := range m.records {
		if rec.n.RecipientID == recipientID && rec.n.ExpiresAt.After(time.Now()) {
			count++
		}
	}
	return count, nil
}

func (m *MockNotificationRepository) EnforceRetention(_ context.Context, recipientID string, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []*mockRecord
	for _, rec := range m.records {
		if rec.n.RecipientID == recipientID {
			owned = append(owned, rec)
		}
	}
	if len(owned) <= max {
		return 0, nil
	}

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].n.CreatedAt.Equal(owned[j].n.CreatedAt) {
			return owned[i].seq < owned[j].seq
		}
		return owned[i].n.CreatedAt.Before(owned[j].n.CreatedAt)
	})

	excess := owned[:len(owned)-max]
	for _, rec := range excess {
		delete(m.records, rec.n.ID)
	}
	return len(excess), nil
}

func (m *MockNotificationRepository) OverCapRecipients(_ context.Context, max int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, rec := range m.records {
		counts[rec.n.RecipientID]++
	}
	var out []string
	for id, c := range counts {
		if c > max {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) PurgeExpired(_ context.Context, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, rec := range m.records {
		if purged >= limit {
			break
		}
		if !rec.n.ExpiresAt.After(time.Now()) {
			delete(m.records, id)
			purged++
		}
	}
	return purged, nil
}

// MockDeliveryStatusRepository is an in-memory DeliveryStatusRepository.
type MockDeliveryStatusRepository struct {
	mu       sync.RWMutex
	statuses map[string]*domain.DeliveryStatus

	RecordErr error
}

func NewMockDeliveryStatusRepository() *MockDeliveryStatusRepository {
	return &MockDeliveryStatusRepository{statuses: make(map[string]*domain.DeliveryStatus)}
}

func statusKey(notificationID, channel string) string {
	return notificationID + "/" + channel
}

func (m *MockDeliveryStatusRepository) Record(_ context.Context, s *domain.DeliveryStatus) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// A terminal state never reverses; only PENDING rows may be rewritten.
	if existing, ok := m.statuses[statusKey(s.NotificationID, s.Channel)]; ok && existing.State != domain.DeliveryPending {
		return nil
	}
	clone := *s
	m.statuses[statusKey(s.NotificationID, s.Channel)] = &clone
	return nil
}

func (m *MockDeliveryStatusRepository) Get(_ context.Context, notificationID, channel string) (*domain.DeliveryStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[statusKey(notificationID, channel)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *MockDeliveryStatusRepository) MarkDelivered(_ context.Context, notificationID, channel string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[statusKey(notificationID, channel)]
	if !ok || s.State != domain.DeliveryPending {
		return false, nil
	}
	s.State = domain.DeliveryDelivered
	s.LastAttempt = at
	s.Error = nil
	return true, nil
}

func (m *MockDeliveryStatusRepository) MarkFailed(_ context.Context, notificationID, channel, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[statusKey(notificationID, channel)]
	if !ok || s.State != domain.DeliveryPending {
		return nil
	}
	s.State = domain.DeliveryFailed
	s.LastAttempt = time.Now().UTC()
	s.Error = &errMsg
	return nil
}

func (m *MockDeliveryStatusRepository) RecordAttempt(_ context.Context, notificationID, channel, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[statusKey(notificationID, channel)]
	if !ok {
		return nil
	}
	s.Attempts++
	s.LastAttempt = time.Now().UTC()
	s.Error = &errMsg
	return nil
}

// MockOfflineQueueRepository is an in-memory OfflineQueueRepository.
type MockOfflineQueueRepository struct {
	mu      sync.RWMutex
	entries []QueueEntry
	nextID  int64

	EnqueueErr error
}

func NewMockOfflineQueueRepository() *MockOfflineQueueRepository {
	return &MockOfflineQueueRepository{}
}

func (m *MockOfflineQueueRepository) Enqueue(_ context.Context, recipientID, notificationID string, expiresAt time.Time) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries = append(m.entries, QueueEntry{
		ID:             m.nextID,
		RecipientID:    recipientID,
		NotificationID: notificationID,
		EnqueuedAt:     time.Now().UTC(),
		ExpiresAt:      expiresAt,
	})
	return nil
}

func (m *MockOfflineQueueRepository) Pending(_ context.Context, recipientID string, limit int) ([]QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []QueueEntry
	for _, e := range m.entries {
		if e.RecipientID == recipientID && e.ExpiresAt.After(time.Now()) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockOfflineQueueRepository) Remove(_ context.Context, entryID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == entryID {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MockOfflineQueueRepository) PurgeExpired(_ context.Context, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	purged := 0
	for _, e := range m.entries {
		if purged < limit && !e.ExpiresAt.After(time.Now()) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return purged, nil
}

func (m *MockOfflineQueueRepository) Depth(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	depth := 0
	for _, e := range m.entries {
		if e.ExpiresAt.After(time.Now()) {
			depth++
		}
	}
	return depth, nil
}

var (
	_ NotificationRepository   = (*MockNotificationRepository)(nil)
	_ DeliveryStatusRepository = (*MockDeliveryStatusRepository)(nil)
	_ OfflineQueueRepository   = (*MockOfflineQueueRepository)(nil)
)
