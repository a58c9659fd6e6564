// Package ratelimit implements the per-client admission guard: a sliding
// window log of recent failed credential attempts for each key.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults for the admission guard
const (
	DefaultMaxAttempts     = 5
	DefaultWindow          = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

// Decision is the outcome of one admission check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	// Reset is when the oldest counted attempt leaves the window.
	Reset time.Time
}

// window holds the admitted attempts of one key, oldest first
type window struct {
	attempts []time.Time
}

// SlidingWindow admits at most maxAttempts requests per key within any
// trailing window. Rejected requests are not recorded.
type SlidingWindow struct {
	mutex       sync.Mutex
	windows     map[string]*window
	maxAttempts int
	windowSize  time.Duration
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewSlidingWindow creates a limiter and starts its cleanup goroutine
func NewSlidingWindow(maxAttempts int, windowSize, cleanupInterval time.Duration) *SlidingWindow {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &SlidingWindow{
		windows:     make(map[string]*window),
		maxAttempts: maxAttempts,
		windowSize:  windowSize,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}

	go s.cleanup(cleanupInterval)

	return s
}

// Allow checks key against its window and records the attempt when admitted
func (s *SlidingWindow) Allow(key string) Decision {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	s.cleanupWindow(w, now)

	if len(w.attempts) >= s.maxAttempts {
		return s.rejection(w, now)
	}

	w.attempts = append(w.attempts, now)
	return Decision{
		Allowed:   true,
		Limit:     s.maxAttempts,
		Remaining: s.maxAttempts - len(w.attempts),
		Reset:     w.attempts[0].Add(s.windowSize),
	}
}

// Peek reports what Allow would decide for key without recording an attempt
func (s *SlidingWindow) Peek(key string) Decision {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return Decision{Allowed: true, Limit: s.maxAttempts, Remaining: s.maxAttempts}
	}

	now := s.now()
	s.cleanupWindow(w, now)
	if len(w.attempts) >= s.maxAttempts {
		return s.rejection(w, now)
	}

	d := Decision{
		Allowed:   true,
		Limit:     s.maxAttempts,
		Remaining: s.maxAttempts - len(w.attempts),
	}
	if len(w.attempts) > 0 {
		d.Reset = w.attempts[0].Add(s.windowSize)
	}
	return d
}

// rejection describes a full window. Callers hold mutex.
func (s *SlidingWindow) rejection(w *window, now time.Time) Decision {
	reset := w.attempts[0].Add(s.windowSize)
	return Decision{
		Allowed:    false,
		Limit:      s.maxAttempts,
		Remaining:  0,
		RetryAfter: reset.Sub(now),
		Reset:      reset,
	}
}

// Limit returns the number of attempts admitted per window
func (s *SlidingWindow) Limit() int {
	return s.maxAttempts
}

// Window returns the window length
func (s *SlidingWindow) Window() time.Duration {
	return s.windowSize
}

// Tracked returns the number of keys with live state
func (s *SlidingWindow) Tracked() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.windows)
}

// Stop ends the cleanup goroutine
func (s *SlidingWindow) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// cleanupWindow drops attempts at or before the window start
func (s *SlidingWindow) cleanupWindow(w *window, now time.Time) {
	cutoff := now.Add(-s.windowSize)
	i := 0
	for i < len(w.attempts) && !w.attempts[i].After(cutoff) {
		i++
	}
	w.attempts = w.attempts[i:]
}

// sweep decays every window and forgets keys with no attempts left
func (s *SlidingWindow) sweep() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	for key, w := range s.windows {
		s.cleanupWindow(w, now)
		if len(w.attempts) == 0 {
			delete(s.windows, key)
		}
	}
}

func (s *SlidingWindow) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}
