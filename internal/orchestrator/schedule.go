package orchestrator

import (
	"sync"
	"time"
)

// Timer is a pending deferred callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Implementations must not call f
// synchronously from AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PollDue reports whether a job last checked at lastCheckedAt should be
// polled at now. A job that was never checked is always due.
func PollDue(lastCheckedAt *time.Time, now time.Time, interval time.Duration) bool {
	if lastCheckedAt == nil {
		return true
	}
	return now.Sub(*lastCheckedAt) >= interval
}

// NextPollDelay is how long to wait before polling a job again, zero when
// the poll is already due.
func NextPollDelay(lastCheckedAt *time.Time, now time.Time, interval time.Duration) time.Duration {
	if PollDue(lastCheckedAt, now, interval) {
		return 0
	}
	return interval - now.Sub(*lastCheckedAt)
}

// jobLocks serializes work on a single job while letting different jobs
// proceed concurrently.
type jobLocks struct {
	mu sync.Mutex
	m  map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{m: make(map[string]*jobLock)}
}

func (l *jobLocks) lock(jobID string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.m[jobID]
	if !ok {
		e = &jobLock{}
		l.m[jobID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, jobID)
		}
		l.mu.Unlock()
	}
}
