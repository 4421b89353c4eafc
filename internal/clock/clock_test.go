package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogical_SameMillisecondBumps(t *testing.T) {
	src := NewManual(1000)
	l := NewLogical(src)

	assert.Equal(t, int64(1000), l.Next())
	assert.Equal(t, int64(1001), l.Next())
	assert.Equal(t, int64(1002), l.Next())

	src.Set(5000)
	assert.Equal(t, int64(5000), l.Next(), "follows the source once it moves ahead")
}

func TestLogical_SourceStepsBackwards(t *testing.T) {
	src := NewManual(2000)
	l := NewLogical(src)

	assert.Equal(t, int64(2000), l.Next())
	src.Set(10)
	assert.Equal(t, int64(2001), l.Next())
}

func TestLogical_NewLogicalAtAndObserve(t *testing.T) {
	src := NewManual(50)
	l := NewLogicalAt(src, 100)
	assert.Equal(t, int64(101), l.Next())

	l.Observe(500)
	assert.Equal(t, int64(500), l.Current())
	l.Observe(20)
	assert.Equal(t, int64(500), l.Current(), "observing an older value is a no-op")
	assert.Equal(t, int64(501), l.Next())
}

func TestLogical_ThreadSafe(t *testing.T) {
	l := NewLogical(NewManual(0))
	const goroutines = 50
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				v := l.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "every value is unique")
}

func TestManual_Advance(t *testing.T) {
	m := NewManual(100)
	assert.Equal(t, int64(1100), m.Advance(time.Second))
	assert.Equal(t, int64(1100), m.NowMs())
}

func TestWall_IsCurrent(t *testing.T) {
	before := time.Now().UnixMilli()
	got := Wall{}.NowMs()
	assert.GreaterOrEqual(t, got, before)
}
