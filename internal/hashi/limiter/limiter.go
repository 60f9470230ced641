// Package limiter gates repeated credential-submission attempts per sender.
package limiter

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of failed bind attempts a sender may make
	// within one window before further attempts are blocked.
	DefaultLimit = 3

	// DefaultWindow is the fixed attempt window, anchored at the first
	// recorded attempt.
	DefaultWindow = time.Hour
)

// attempt tracks one sender's failed submissions in the current window.
type attempt struct {
	count       int
	windowStart time.Time
}

// SubmissionLimiter blocks a sender once they exceed the attempt limit
// within a fixed window. The window is anchored at the first recorded
// attempt; when it elapses the count resets and the next attempt opens a
// fresh window. A successful bind resets the sender immediately.
//
// State is in-memory only and never persisted. Safe for concurrent use.
type SubmissionLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string]attempt
}

// New returns a SubmissionLimiter allowing at most limit failed attempts per
// sender per window. Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *SubmissionLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &SubmissionLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string]attempt),
	}
}

// ShouldBlock reports whether the sender has exceeded the attempt limit in
// the current window. An expired window is cleared here, so a blocked sender
// becomes eligible again once the window elapses.
func (l *SubmissionLimiter) ShouldBlock(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[sender]
	if !ok {
		return false
	}
	if time.Since(a.windowStart) >= l.window {
		delete(l.attempts, sender)
		return false
	}
	return a.count > l.limit
}

// RecordAttempt counts one failed submission. The first attempt after a
// reset or an expired window anchors a new window.
func (l *SubmissionLimiter) RecordAttempt(sender string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[sender]
	if !ok || time.Since(a.windowStart) >= l.window {
		l.attempts[sender] = attempt{count: 1, windowStart: time.Now()}
		return
	}
	a.count++
	l.attempts[sender] = a
}

// Reset clears the sender's attempts, called after a successful bind.
func (l *SubmissionLimiter) Reset(sender string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, sender)
}
