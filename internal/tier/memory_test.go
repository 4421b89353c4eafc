package tier

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

func TestMemory_MissIsNotAnError(t *testing.T) {
	m := NewMemory("memory", nil, 0)

	resp, err := m.Fetch(context.Background(), protocol.NewGet("Post", "1", protocol.FreshnessAny, 100))
	require.NoError(t, err)
	assert.False(t, resp.Exists)
	assert.Equal(t, int64(100), resp.TimeMs)
}

func TestMemory_StoreAndFetchRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	req := protocol.NewGet("Post", "1", protocol.FreshnessAny, 100)
	rec := ir.NewRecord(ir.Object{"id": ir.String("1"), "title": ir.String("hello")})
	require.NoError(t, m.Store(ctx, protocol.FoundRecord(req, rec, 100, 90)))

	resp, err := m.Fetch(ctx, protocol.NewGet("Post", "1", 5, 200))
	require.NoError(t, err)
	require.True(t, resp.Exists)
	assert.Equal(t, "hello", string(resp.Record.Base["title"].(ir.String)))
	assert.Equal(t, int64(90), resp.ArrivedAtMs)
	assert.Equal(t, int64(200), resp.TimeMs)
}

func TestMemory_OverridesAreNotPersisted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	req := protocol.NewGet("Post", "1", protocol.FreshnessAny, 100)
	rec := ir.NewRecord(ir.Object{"id": ir.String("1")}).With("author", ir.Object{"id": ir.String("a")})
	require.NoError(t, m.Store(ctx, protocol.FoundRecord(req, rec, 100, 100)))

	resp, err := m.Fetch(ctx, req)
	require.NoError(t, err)
	_, ok := resp.Record.Get("author")
	assert.False(t, ok)
}

func TestMemory_QueryStoresCollectionAndMembers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	req := protocol.NewCollection("Post", "recent", nil, protocol.FreshnessAny, 100)
	recs := []ir.Record{
		ir.NewRecord(ir.Object{"id": ir.String("b")}),
		ir.NewRecord(ir.Object{"id": ir.String("a")}),
	}
	require.NoError(t, m.Store(ctx, protocol.FoundRecords(req, recs, 100, 100)))

	resp, err := m.Fetch(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.HasIDs())
	assert.Equal(t, []string{"b", "a"}, resp.IDs)

	member, err := m.Fetch(ctx, protocol.NewGet("Post", "a", protocol.FreshnessAny, 100))
	require.NoError(t, err)
	assert.True(t, member.Exists)
}

func TestMemory_NonPresentResponseRemoves(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	require.NoError(t, m.StoreRecord(ctx, "Post", "1", ir.Object{"id": ir.String("1")}, 10))
	req := protocol.NewGet("Post", "1", protocol.FreshnessRejectStale, 20)
	require.NoError(t, m.Store(ctx, protocol.NotFound(req, 20)))

	resp, err := m.Fetch(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Exists)
}

func TestMemory_DestroyRemoves(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	require.NoError(t, m.StoreRecord(ctx, "Post", "1", ir.Object{"id": ir.String("1")}, 10))
	req := protocol.NewDestroy("Post", "1", 20)
	require.NoError(t, m.Store(ctx, &protocol.Response{Request: req, TimeMs: 20, Exists: true}))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_OlderArrivalDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	require.NoError(t, m.StoreRecord(ctx, "Post", "1", ir.Object{"id": ir.String("1"), "v": ir.Int(2)}, 200))
	require.NoError(t, m.StoreRecord(ctx, "Post", "1", ir.Object{"id": ir.String("1"), "v": ir.Int(1)}, 100))

	resp, err := m.Fetch(ctx, protocol.NewGet("Post", "1", protocol.FreshnessAny, 300))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), resp.Record.Base["v"])
	assert.Equal(t, int64(200), resp.ArrivedAtMs)
}

func TestMemory_RejectsEmptyIdentifiers(t *testing.T) {
	m := NewMemory("memory", nil, 0)
	err := m.StoreRecord(context.Background(), "Post", "", ir.Object{}, 1)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestMemory_StoreRejectsMismatchedRecord(t *testing.T) {
	m := NewMemory("memory", nil, 0)
	req := protocol.NewGet("Post", "1", protocol.FreshnessAny, 1)
	rec := ir.NewRecord(ir.Object{"id": ir.String("2")})
	err := m.Store(context.Background(), protocol.FoundRecord(req, rec, 1, 1))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestMemory_ClearAll(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, holds HeldChecker) *Memory {
		t.Helper()
		m := NewMemory("memory", holds, 0)
		require.NoError(t, m.StoreRecord(ctx, "Post", "old", ir.Object{"id": ir.String("old")}, 100))
		require.NoError(t, m.StoreRecord(ctx, "Post", "new", ir.Object{"id": ir.String("new")}, 500))
		require.NoError(t, m.StoreRecord(ctx, "Post", "kept", ir.Object{"id": ir.String("kept")}, 100))
		require.NoError(t, m.StoreCollection(ctx, "Post", "all", []string{"old", "new"}, 100))
		require.NoError(t, m.StoreRecord(ctx, "User", "u", ir.Object{"id": ir.String("u")}, 100))
		return m
	}
	exists := func(t *testing.T, m *Memory, typeName, id string) bool {
		t.Helper()
		resp, err := m.Fetch(ctx, protocol.NewGet(typeName, id, protocol.FreshnessAny, 1000))
		require.NoError(t, err)
		return resp.Exists
	}

	holds := hold.New()
	require.NoError(t, holds.Hold("Post", "kept"))

	t.Run("everything", func(t *testing.T) {
		m := seed(t, holds)
		require.NoError(t, m.ClearAll(ctx, ClearOptions{}))
		assert.Equal(t, 0, m.Len())
	})

	t.Run("except held", func(t *testing.T) {
		m := seed(t, holds)
		require.NoError(t, m.ClearAll(ctx, ClearOptions{ExceptHeld: true}))
		assert.True(t, exists(t, m, "Post", "kept"))
		assert.False(t, exists(t, m, "Post", "old"))
		assert.Equal(t, 1, m.Len())
	})

	t.Run("older than", func(t *testing.T) {
		m := seed(t, holds)
		require.NoError(t, m.ClearAll(ctx, ClearOptions{OlderThanMs: 300}))
		assert.True(t, exists(t, m, "Post", "new"))
		assert.False(t, exists(t, m, "Post", "old"))
		assert.Equal(t, 1, m.Len())
	})

	t.Run("one type", func(t *testing.T) {
		m := seed(t, holds)
		require.NoError(t, m.ClearAll(ctx, ClearOptions{Type: "User"}))
		assert.False(t, exists(t, m, "User", "u"))
		assert.Equal(t, 4, m.Len())
	})
}

func TestShouldEvict_HeldCollectionKey(t *testing.T) {
	holds := hold.New()
	require.NoError(t, holds.HoldKey("Post", "recent"))

	opts := ClearOptions{ExceptHeld: true}
	assert.False(t, ShouldEvict(opts, holds, "Post", "recent", true, 1))
	assert.True(t, ShouldEvict(opts, holds, "Post", "recent", false, 1))
	assert.True(t, ShouldEvict(ClearOptions{}, holds, "Post", "recent", true, 1))
}

func TestMemory_NullAndFloatFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("memory", nil, 0)

	rec, err := ir.ParseObject([]byte(`{"id":"p1","author_id":null,"price":9.99}`))
	require.NoError(t, err)
	require.NoError(t, m.StoreRecord(ctx, "Post", "p1", rec, 10))

	resp, err := m.Fetch(ctx, protocol.NewGet("Post", "p1", protocol.FreshnessAny, 20))
	require.NoError(t, err)
	require.True(t, resp.Exists)
	assert.Equal(t, ir.Null{}, resp.Record.Base["author_id"])
	assert.Equal(t, ir.Float(9.99), resp.Record.Base["price"])
}

func TestMemory_ConcurrentStoresKeepNewestArrival(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		m := NewMemory("memory", nil, 0)
		arrivals := rand.Perm(32)

		var wg sync.WaitGroup
		for _, a := range arrivals {
			wg.Add(1)
			go func(arrived int64) {
				defer wg.Done()
				rec := ir.Object{"id": ir.String("p1"), "rev": ir.Int(arrived)}
				assert.NoError(t, m.StoreRecord(ctx, "Post", "p1", rec, arrived))
			}(int64(a))
		}
		wg.Wait()

		resp, err := m.Fetch(ctx, protocol.NewGet("Post", "p1", protocol.FreshnessAny, 100))
		require.NoError(t, err)
		require.True(t, resp.Exists)
		require.Equal(t, int64(31), resp.ArrivedAtMs)
		require.Equal(t, ir.Int(31), resp.Record.Base["rev"])
	}
}
