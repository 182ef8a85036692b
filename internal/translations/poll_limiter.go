package translations

import (
	"sync"
	"time"
)

const (
	defaultStatusPollWindow = time.Second
	pollSweepEvery          = 512
)

// PollLimiter throttles status reads to one per user and job per window.
// A nil limiter allows everything.
type PollLimiter struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
	checks int
}

func NewPollLimiter(window time.Duration, now func() time.Time) *PollLimiter {
	if window <= 0 {
		window = defaultStatusPollWindow
	}
	if now == nil {
		now = time.Now
	}
	return &PollLimiter{seen: make(map[string]time.Time), window: window, now: now}
}

// Allow records a read of jobID by userID. When the previous read is still
// inside the window it reports false and the time left until the next one.
func (l *PollLimiter) Allow(userID, jobID string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key := userID + "/" + jobID
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks++
	if l.checks%pollSweepEvery == 0 {
		for k, at := range l.seen {
			if now.Sub(at) >= l.window {
				delete(l.seen, k)
			}
		}
	}
	if last, ok := l.seen[key]; ok {
		if wait := l.window - now.Sub(last); wait > 0 {
			return false, wait
		}
	}
	l.seen[key] = now
	return true, 0
}

// Len reports how many user/job pairs are tracked.
func (l *PollLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
