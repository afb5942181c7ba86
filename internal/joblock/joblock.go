// Package joblock provides the lock primitives shared by every agent for
// arbitrating access to a hardware device between a long-running acquisition
// process and short interactive tasks.
//
// TimeoutLock is a mutex with bounded acquisition and a job label for
// diagnostics. YieldingLock stacks two TimeoutLocks so that a waiter is
// always served before a holder that releases and immediately reacquires.
package joblock

import (
	"sync"
	"time"
)

// Timeout sentinels accepted by Acquire.
const (
	// NoWait makes Acquire try once and return immediately.
	NoWait time.Duration = 0

	// UseDefault makes Acquire fall back to the lock's configured default
	// timeout. A lock constructed with a zero default blocks until the lock
	// is free.
	UseDefault time.Duration = -1
)

// TimeoutLock is a mutual-exclusion lock with timeout-bounded acquisition.
// The job label of the current holder is retained for diagnostics so a
// rejected caller can report who is blocking it.
type TimeoutLock struct {
	sem chan struct{}
	def time.Duration

	mu  sync.Mutex
	job string
}

// NewTimeoutLock creates a lock whose UseDefault timeout is defaultTimeout.
// A zero defaultTimeout means UseDefault acquisitions block indefinitely.
func NewTimeoutLock(defaultTimeout time.Duration) *TimeoutLock {
	return &TimeoutLock{
		sem: make(chan struct{}, 1),
		def: defaultTimeout,
	}
}

// Acquire attempts to take the lock within timeout, recording job as the
// holder on success. NoWait never blocks. UseDefault applies the configured
// default. Failure to acquire is a normal outcome, not an error; callers
// branch on the returned bool and may consult Job for the blocking holder.
func (l *TimeoutLock) Acquire(timeout time.Duration, job string) bool {
	indefinite := false
	if timeout < 0 {
		timeout = l.def
		// A zero default means UseDefault callers wait indefinitely.
		indefinite = timeout == 0
	}
	switch {
	case indefinite:
		l.sem <- struct{}{}
	case timeout == 0:
		select {
		case l.sem <- struct{}{}:
		default:
			return false
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case l.sem <- struct{}{}:
		case <-t.C:
			return false
		}
	}
	l.setJob(job)
	return true
}

// Release frees the lock and clears the holder label. Both happen under
// one critical section, so a caller that fails to acquire can always name
// the holder; the label is never empty while the lock is held. Releasing
// a lock that is not held panics, as with sync.Mutex.
func (l *TimeoutLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.sem:
	default:
		panic("joblock: release of unheld TimeoutLock")
	}
	l.job = ""
}

// Job returns the label of the current (or most recent) holder.
func (l *TimeoutLock) Job() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.job
}

func (l *TimeoutLock) setJob(job string) {
	l.mu.Lock()
	l.job = job
	l.mu.Unlock()
}

// WithLock acquires the lock, runs fn, and guarantees Release on every exit
// path from fn, including panics. If acquisition fails fn does not run and
// WithLock returns false.
func (l *TimeoutLock) WithLock(timeout time.Duration, job string, fn func()) bool {
	if !l.Acquire(timeout, job) {
		return false
	}
	defer l.Release()
	fn()
	return true
}

// YieldingLock is a lock protected by a lock. The braided arrangement
// guarantees that a goroutine waiting on the lock gets priority over one
// that has just released it and wants to reacquire.
//
// The intended use is an acquisition process that holds the lock almost
// continuously but periodically releases it so a short task can access the
// device. ReleaseAndAcquire makes that a one-liner.
type YieldingLock struct {
	next   *TimeoutLock
	active *TimeoutLock
	def    time.Duration

	mu  sync.Mutex
	job string
}

// NewYieldingLock creates a YieldingLock with the given default timeout for
// UseDefault acquisitions.
func NewYieldingLock(defaultTimeout time.Duration) *YieldingLock {
	return &YieldingLock{
		next:   NewTimeoutLock(0),
		active: NewTimeoutLock(0),
		def:    defaultTimeout,
	}
}

// Acquire takes the lock within timeout. Internally the caller first claims
// the "next" slot and only then contends for the "active" lock; the next
// slot is released either way. A holder that releases active and loops back
// must queue behind anyone already waiting on next, which is what gives
// waiters priority.
func (l *YieldingLock) Acquire(timeout time.Duration, job string) bool {
	if timeout < 0 {
		timeout = l.def
		if timeout == 0 {
			// Zero default: wait indefinitely in the inner locks.
			timeout = UseDefault
		}
	}
	start := time.Now()
	if !l.next.Acquire(timeout, job) {
		return false
	}
	defer l.next.Release()

	remaining := timeout
	if timeout > 0 {
		remaining = timeout - time.Since(start)
		if remaining <= 0 {
			return false
		}
	}
	if !l.active.Acquire(remaining, job) {
		return false
	}
	l.setJob(job)
	return true
}

// Release frees the lock and clears the holder label, under one critical
// section as with TimeoutLock.Release.
func (l *YieldingLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active.Release()
	l.job = ""
}

// ReleaseAndAcquire releases the lock and immediately reacquires it under
// the same job label, giving any waiter a fair chance in between. A false
// return means the lock was lost to another job; the caller should skip its
// current cycle rather than treat this as fatal.
func (l *YieldingLock) ReleaseAndAcquire(timeout time.Duration) bool {
	job := l.Job()
	l.Release()
	return l.Acquire(timeout, job)
}

// Job returns the label of the current (or most recent) holder.
func (l *YieldingLock) Job() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.job
}

func (l *YieldingLock) setJob(job string) {
	l.mu.Lock()
	l.job = job
	l.mu.Unlock()
}

// WithLock acquires the lock, runs fn, and guarantees Release on every exit
// path from fn. If acquisition fails fn does not run and WithLock returns
// false.
func (l *YieldingLock) WithLock(timeout time.Duration, job string, fn func()) bool {
	if !l.Acquire(timeout, job) {
		return false
	}
	defer l.Release()
	fn()
	return true
}
