package giveaway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type activityKey struct {
	eventID     int64
	candidateID int64
}

// ActivityLimiter は (eventID, candidateID) ごとのトークンバケット。
// メッセージ連投によるカウント水増しを防ぐ。再起動時は空から始まる。
type ActivityLimiter struct {
	mu       sync.Mutex
	limiters map[activityKey]*rate.Limiter
	limit    rate.Limit
}

// NewActivityLimiter allows one increment per cooldown per candidate per event.
func NewActivityLimiter(cooldown time.Duration) *ActivityLimiter {
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	return &ActivityLimiter{
		limiters: make(map[activityKey]*rate.Limiter),
		limit:    limit,
	}
}

// Allow reports whether a message observed at the given time may be counted.
func (l *ActivityLimiter) Allow(eventID, candidateID int64, at time.Time) bool {
	key := activityKey{eventID: eventID, candidateID: candidateID}

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, 1)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(at, 1)
}

// Forget drops every bucket of an event.
func (l *ActivityLimiter) Forget(eventID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.limiters {
		if key.eventID == eventID {
			delete(l.limiters, key)
		}
	}
}

func (l *ActivityLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
