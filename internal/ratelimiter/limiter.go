// Package ratelimiter bounds per-recipient notification throughput with a
// fixed window counter: the count resets to zero at every window rollover
// and everything past the maximum is rejected until the next reset.
package ratelimiter

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type window struct {
	start time.Time
	count int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// RecipientLimiter holds one fixed window per recipient, lazily created on
// first use. Recipients are spread across shards so unrelated recipients
// never contend on the same lock.
type RecipientLimiter struct {
	maxCount int
	duration time.Duration
	shards   [shardCount]*shard

	// now is swapped out in tests to drive window rollover deterministically.
	now func() time.Time
}

func New(maxCount int, duration time.Duration) *RecipientLimiter {
	l := &RecipientLimiter{
		maxCount: maxCount,
		duration: duration,
		now:      time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return l
}

// TryConsume records one event for recipientID and reports whether it fits
// in the current window. It never blocks; callers must treat false as a
// final rejection, not something to retry synchronously.
func (l *RecipientLimiter) TryConsume(recipientID string) bool {
	s := l.shardFor(recipientID)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[recipientID]
	if !ok || now.Sub(w.start) >= l.duration {
		s.windows[recipientID] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.maxCount {
		return false
	}
	w.count++
	return true
}

// Prune drops windows that rolled over more than one full duration ago so
// the map does not grow with every recipient ever seen. Called by the reaper.
func (l *RecipientLimiter) Prune() {
	cutoff := l.now().Add(-2 * l.duration)
	for _, s := range l.shards {
		s.mu.Lock()
		for id, w := range s.windows {
			if w.start.Before(cutoff) {
				delete(s.windows, id)
			}
		}
		s.mu.Unlock()
	}
}

func (l *RecipientLimiter) shardFor(recipientID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(recipientID))
	return l.shards[h.Sum32()%shardCount]
}
