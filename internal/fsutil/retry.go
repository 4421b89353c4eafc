// Package fsutil wraps the file operations the on-disk cache layers need in
// a bounded retry loop.
//
// Only the narrow "file is in use by someone else" condition is retried,
// recognized per platform by IsFileInUse. Every other failure is returned
// at once, and exhausting the attempt ceiling returns the last underlying
// error unchanged so callers can still match it with errors.Is.
package fsutil

import (
	"log/slog"
	"math/rand/v2"
	"time"
)

// Defaults for RetryPolicy.
const (
	DefaultMaxAttempts = 10
	DefaultMinBackoff  = 5 * time.Millisecond
	DefaultMaxBackoff  = 50 * time.Millisecond
)

// RetryPolicy bounds the retry loop. The zero value uses the defaults.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration

	// IsTransient overrides IsFileInUse. Tests use it to inject failures.
	IsTransient func(error) bool

	// Sleep overrides time.Sleep.
	Sleep func(time.Duration)
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt ceiling is reached. op names the operation in debug logs.
func (p RetryPolicy) Do(op, path string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	transient := p.IsTransient
	if transient == nil {
		transient = IsFileInUse
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !transient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.backoff()
		slog.Debug("file in use, retrying",
			"op", op, "path", path, "attempt", attempt, "delay", delay, "error", err)
		p.sleep(delay)
	}
	return err
}

// backoff picks a uniformly jittered delay in [MinBackoff, MaxBackoff].
func (p RetryPolicy) backoff() time.Duration {
	lo, hi := p.MinBackoff, p.MaxBackoff
	if lo <= 0 {
		lo = DefaultMinBackoff
	}
	if hi < lo {
		hi = max(lo, DefaultMaxBackoff)
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

func (p RetryPolicy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}
