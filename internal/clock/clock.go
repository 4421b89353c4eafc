// Package clock provides the millisecond clocks the cache runs on.
//
// Freshness is measured on a Source (normally the origin's clock, so cached
// ages agree with the authority). Journal entries are named from a Logical
// clock, which never hands out the same value twice.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source returns the current time in Unix milliseconds.
type Source interface {
	NowMs() int64
}

// SourceFunc adapts a function to Source.
type SourceFunc func() int64

// NowMs implements Source.
func (f SourceFunc) NowMs() int64 { return f() }

// Wall reads the system clock.
type Wall struct{}

// NowMs implements Source.
func (Wall) NowMs() int64 { return time.Now().UnixMilli() }

// Logical is a strictly increasing millisecond clock layered on a Source.
//
// Next returns the source time, bumped by one unit whenever it would not be
// greater than the previous value. Two calls in the same millisecond therefore
// yield distinct, ordered values, and a source that steps backwards cannot
// reorder them.
//
// Thread-safety: Logical is safe for concurrent use.
type Logical struct {
	src  Source
	last atomic.Int64
}

// NewLogical creates a logical clock over src.
func NewLogical(src Source) *Logical {
	return &Logical{src: src}
}

// NewLogicalAt creates a logical clock that will never return a value <= start.
// Used to resume after values already handed out in a previous process.
func NewLogicalAt(src Source, start int64) *Logical {
	l := &Logical{src: src}
	l.last.Store(start)
	return l
}

// Next returns the next value. Calls are linearizable.
func (l *Logical) Next() int64 {
	for {
		prev := l.last.Load()
		candidate := l.src.NowMs()
		if candidate <= prev {
			candidate = prev + 1
		}
		if l.last.CompareAndSwap(prev, candidate) {
			return candidate
		}
	}
}

// Observe records that v is taken, so later calls return values above it.
func (l *Logical) Observe(v int64) {
	for {
		prev := l.last.Load()
		if v <= prev || l.last.CompareAndSwap(prev, v) {
			return
		}
	}
}

// Current returns the last value handed out or observed.
func (l *Logical) Current() int64 {
	return l.last.Load()
}

// Manual is a settable clock for tests and deterministic replays.
//
// Thread-safety: all methods are safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual creates a manual clock reading start.
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

// NowMs implements Source.
func (m *Manual) NowMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to ms.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}

// Advance moves the clock forward by d (truncated to milliseconds) and
// returns the new reading.
func (m *Manual) Advance(d time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d.Milliseconds()
	return m.now
}
