package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dkeye/Huddle/internal/domain"
)

// ChatLimiter keeps one token bucket per participant. A nil limiter allows
// everything.
type ChatLimiter struct {
	mu      sync.Mutex
	buckets map[domain.ParticipantID]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func NewChatLimiter(limit rate.Limit, burst int) *ChatLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ChatLimiter{
		buckets: make(map[domain.ParticipantID]*rate.Limiter),
		limit:   limit,
		burst:   burst,
	}
}

func (l *ChatLimiter) Allow(pid domain.ParticipantID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[pid]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[pid] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// Forget drops pid's bucket.
func (l *ChatLimiter) Forget(pid domain.ParticipantID) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, pid)
}
