package core

// run_limiter.go bounds session runs.
//
// Two limits apply. Each session has at most one worker at a time, so items
// of one session are never processed in parallel. Across sessions a
// semaphore caps concurrent runs; when every slot is taken a new run waits up
// to maxWait before failing with ErrTooManyRuns.
//
// WaitForDrain blocks until every run has released its slot, for graceful
// shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTooManyRuns is returned when all run slots are occupied and the wait
// timeout expires.
var ErrTooManyRuns = errors.New("too many concurrent import runs, please try again later")

// DefaultMaxConcurrentRuns is the default limit for parallel session runs.
const DefaultMaxConcurrentRuns = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// RunLimiter enforces one worker per session and a global cap on runs.
type RunLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewRunLimiter creates a limiter allowing at most maxConcurrent runs.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &RunLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		running:   make(map[uuid.UUID]struct{}),
	}
}

// Acquire claims the session and a run slot. It fails immediately with
// ErrSessionBusy when the session already has a worker, and with
// ErrTooManyRuns when no slot frees up within maxWait. The returned release
// function must be called exactly once.
func (l *RunLimiter) Acquire(ctx context.Context, importID uuid.UUID) (func(), error) {
	if !l.claim(importID) {
		return nil, ErrSessionBusy
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.semaphore
				l.unclaim(importID)
			})
		}, nil

	case <-waitCtx.Done():
		l.unclaim(importID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManyRuns
	}
}

// Running reports whether the session currently has a worker.
func (l *RunLimiter) Running(importID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[importID]
	return ok
}

func (l *RunLimiter) claim(importID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.running[importID]; ok {
		return false
	}
	l.running[importID] = struct{}{}
	return true
}

func (l *RunLimiter) unclaim(importID uuid.UUID) {
	l.mu.Lock()
	delete(l.running, importID)
	l.mu.Unlock()
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	return len(l.semaphore)
}

// MaxConcurrent returns the maximum allowed concurrent runs.
func (l *RunLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *RunLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all runs release their slots or ctx is done.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunLimiterStatus is a snapshot of the limiter for monitoring.
type RunLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
	Sessions      int `json:"sessions"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() RunLimiterStatus {
	l.mu.Lock()
	sessions := len(l.running)
	l.mu.Unlock()

	return RunLimiterStatus{
		Active:        len(l.semaphore),
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		Sessions:      sessions,
	}
}
