package sqltier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
	"github.com/roach88/layercache/internal/tier"
)

var _ tier.Tier = (*Tier)(nil)

func createTestTier(t *testing.T, holds tier.HeldChecker) *Tier {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	st, err := Open(path, holds)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// countUpdates installs a trigger that records every UPDATE on records.
func countUpdates(t *testing.T, st *Tier) func() int {
	t.Helper()
	_, err := st.DB().Exec(`
		CREATE TABLE record_updates (n INTEGER);
		CREATE TRIGGER trg_record_updates AFTER UPDATE ON records
		BEGIN INSERT INTO record_updates VALUES (1); END;
	`)
	if err != nil {
		t.Fatalf("install trigger: %v", err)
	}
	return func() int {
		var n int
		if err := st.DB().QueryRow(`SELECT COUNT(*) FROM record_updates`).Scan(&n); err != nil {
			t.Fatalf("count updates: %v", err)
		}
		return n
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	for i := 0; i < 3; i++ {
		st, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		st.Close()
	}

	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer st.Close()

	var version int
	if err := st.DB().QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	st := createTestTier(t, nil)

	if err := st.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := st.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
	if err := st.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestStoreRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := createTestTier(t, nil)

	rec := ir.Object{"id": ir.String("p1"), "views": ir.Int(3)}
	if err := st.StoreRecord(ctx, "Post", "p1", rec, 1000); err != nil {
		t.Fatalf("StoreRecord() failed: %v", err)
	}

	resp, err := st.Fetch(ctx, protocol.NewGet("Post", "p1", 10, 4000))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if !resp.Exists {
		t.Fatal("expected record to exist")
	}
	if resp.ArrivedAtMs != 1000 {
		t.Errorf("ArrivedAtMs = %d, want 1000", resp.ArrivedAtMs)
	}
	if resp.Record.Base["views"] != ir.Int(3) {
		t.Errorf("views = %v, want 3", resp.Record.Base["views"])
	}
	if !resp.IsFresh() {
		t.Error("expected fresh response at age 3s with 10s freshness")
	}
}

func TestStoreRecord_NoOpRewrite(t *testing.T) {
	ctx := context.Background()
	st := createTestTier(t, nil)
	updates := countUpdates(t, st)

	rec := ir.Object{"id": ir.String("p1")}
	for i := 0; i < 3; i++ {
		if err := st.StoreRecord(ctx, "Post", "p1", rec, 1000); err != nil {
			t.Fatalf("StoreRecord() failed: %v", err)
		}
	}
	if n := updates(); n != 0 {
		t.Errorf("identical stores caused %d updates, want 0", n)
	}

	if err := st.StoreRecord(ctx, "Post", "p1", rec, 2000); err != nil {
		t.Fatalf("StoreRecord() failed: %v", err)
	}
	if n := updates(); n != 1 {
		t.Errorf("timestamp change caused %d updates, want 1", n)
	}

	if err := st.StoreRecord(ctx, "Post", "p1", ir.Object{"id": ir.String("p1"), "x": ir.Int(1)}, 2000); err != nil {
		t.Fatalf("StoreRecord() failed: %v", err)
	}
	if n := updates(); n != 2 {
		t.Errorf("content change caused %d updates, want 2", n)
	}
}

func TestStoreRecord_OlderArrivalIgnored(t *testing.T) {
	ctx := context.Background()
	st := createTestTier(t, nil)

	if err := st.StoreRecord(ctx, "Post", "p1", ir.Object{"v": ir.Int(2)}, 2000); err != nil {
		t.Fatal(err)
	}
	if err := st.StoreRecord(ctx, "Post", "p1", ir.Object{"v": ir.Int(1)}, 1000); err != nil {
		t.Fatal(err)
	}

	resp, err := st.Fetch(ctx, protocol.NewGet("Post", "p1", protocol.FreshnessAny, 3000))
	if err != nil {
		t.Fatal(err)
	}
	if resp.ArrivedAtMs != 2000 || resp.Record.Base["v"] != ir.Int(2) {
		t.Errorf("got arrival %d value %v, want 2000 and 2", resp.ArrivedAtMs, resp.Record.Base["v"])
	}
}

func TestStore_QueryResponse(t *testing.T) {
	ctx := context.Background()
	st := createTestTier(t, nil)

	req := protocol.NewCollection("Post", "recent", nil, protocol.FreshnessAny, 100)
	recs := []ir.Record{
		ir.NewRecord(ir.Object{"id": ir.String("b")}),
		ir.NewRecord(ir.Object{"id": ir.String("a")}),
	}
	if err := st.Store(ctx, protocol.FoundRecords(req, recs, 100, 100)); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	resp, err := st.Fetch(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.IDs; len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("IDs = %v, want [b a]", got)
	}

	records, collections, err := st.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if records != 2 || collections != 1 {
		t.Errorf("Count() = %d, %d, want 2, 1", records, collections)
	}
}

func TestStore_NotFoundRemoves(t *testing.T) {
	ctx := context.Background()
	st := createTestTier(t, nil)

	if err := st.StoreRecord(ctx, "Post", "p1", ir.Object{}, 1); err != nil {
		t.Fatal(err)
	}
	req := protocol.NewGet("Post", "p1", protocol.FreshnessRejectStale, 2)
	if err := st.Store(ctx, protocol.NotFound(req, 2)); err != nil {
		t.Fatal(err)
	}

	resp, err := st.Fetch(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Exists {
		t.Error("record still present after non-present store")
	}
}

func TestClearAll_HeldAndAge(t *testing.T) {
	ctx := context.Background()
	holds := hold.New()
	st := createTestTier(t, holds)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(st.StoreRecord(ctx, "Post", "x", ir.Object{}, 100))
	must(st.StoreRecord(ctx, "Post", "z", ir.Object{}, 100))
	must(st.StoreRecord(ctx, "Post", "fresh", ir.Object{}, 900))
	must(st.StoreCollection(ctx, "Post", "y", []string{"x"}, 100))
	must(st.StoreCollection(ctx, "Post", "w", []string{"z"}, 100))
	must(holds.Hold("Post", "x"))
	must(holds.HoldKey("Post", "y"))

	must(st.ClearAll(ctx, tier.ClearOptions{ExceptHeld: true, OlderThanMs: 500}))

	records, collections, err := st.Count(ctx)
	must(err)
	if records != 2 || collections != 1 {
		t.Errorf("Count() = %d, %d, want 2, 1", records, collections)
	}

	must(st.ClearAll(ctx, tier.ClearOptions{}))
	records, collections, err = st.Count(ctx)
	must(err)
	if records != 0 || collections != 0 {
		t.Errorf("Count() after full clear = %d, %d, want 0, 0", records, collections)
	}
}

func TestStoreRecord_NullAndFloatFields(t *testing.T) {
	ctx := context.Background()
	st := createTestTier(t, nil)
	updates := countUpdates(t, st)

	rec, err := ir.ParseObject([]byte(`{"id":"p1","author_id":null,"price":9.99,"ratio":1e-7}`))
	if err != nil {
		t.Fatalf("ParseObject() failed: %v", err)
	}
	if err := st.StoreRecord(ctx, "Post", "p1", rec, 1000); err != nil {
		t.Fatalf("StoreRecord() failed: %v", err)
	}

	resp, err := st.Fetch(ctx, protocol.NewGet("Post", "p1", protocol.FreshnessAny, 2000))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if !resp.Exists {
		t.Fatal("expected record to exist")
	}
	if resp.Record.Base["author_id"] != (ir.Null{}) {
		t.Errorf("author_id = %v, want null", resp.Record.Base["author_id"])
	}
	if resp.Record.Base["price"] != ir.Float(9.99) {
		t.Errorf("price = %v, want 9.99", resp.Record.Base["price"])
	}
	if resp.Record.Base["ratio"] != ir.Float(1e-7) {
		t.Errorf("ratio = %v, want 1e-7", resp.Record.Base["ratio"])
	}

	if err := st.StoreRecord(ctx, "Post", "p1", resp.Record.Base, 1000); err != nil {
		t.Fatalf("StoreRecord() again failed: %v", err)
	}
	if n := updates(); n != 0 {
		t.Errorf("re-storing the decoded record issued %d updates, want 0", n)
	}
}
