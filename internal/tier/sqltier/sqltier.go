// Package sqltier implements a cache tier in a single SQLite database.
//
// Records and collections are stored as canonical JSON rows keyed by
// (type, id) and (type, key). Upserts only replace a row when the arrival
// timestamp moves forward or the content changes, so repeated stores of
// the same value leave the row untouched.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package sqltier

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
	"github.com/roach88/layercache/internal/tier"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added arrival indexes for age-bounded eviction
const currentSchemaVersion = 1

// Tier is the SQLite-backed cache tier.
type Tier struct {
	name   string
	db     *sql.DB
	holds  tier.HeldChecker
	logger *slog.Logger
}

// Option configures a Tier.
type Option func(*Tier)

// WithName overrides the tier name. Defaults to "sqlite".
func WithName(name string) Option {
	return func(t *Tier) { t.name = name }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tier) { t.logger = l }
}

// Open creates or opens the database at path.
// Applies required pragmas and migrations automatically.
func Open(path string, holds tier.HeldChecker, opts ...Option) (*Tier, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	t := &Tier{name: "sqlite", db: db, holds: holds, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Close closes the database connection.
func (t *Tier) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Name implements tier.Tier.
func (t *Tier) Name() string { return t.name }

// DB returns the underlying sql.DB for direct queries.
func (t *Tier) DB() *sql.DB {
	return t.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_arrived ON records(arrived_at_ms);
		CREATE INDEX IF NOT EXISTS idx_collections_arrived ON collections(arrived_at_ms);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// Fetch implements tier.Tier.
func (t *Tier) Fetch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Verb.IsBlob() {
		return protocol.NotFound(req, req.TimeMs), nil
	}

	if req.Verb == protocol.VerbQuery {
		var body string
		var arrived int64
		err := t.db.QueryRowContext(ctx,
			`SELECT ids, arrived_at_ms FROM collections WHERE type = ? AND key = ?`,
			req.Type, req.Key,
		).Scan(&body, &arrived)
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.NotFound(req, req.TimeMs), nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req, err)
		}
		ids, err := decodeIDs(body)
		if err != nil {
			t.logger.Warn("discarding malformed collection", "tier", t.name, "type", req.Type, "key", req.Key, "error", err)
			return protocol.NotFound(req, req.TimeMs), nil
		}
		return protocol.FoundIDs(req, ids, req.TimeMs, arrived), nil
	}

	var body string
	var arrived int64
	err := t.db.QueryRowContext(ctx,
		`SELECT body, arrived_at_ms FROM records WHERE type = ? AND id = ?`,
		req.Type, req.ID,
	).Scan(&body, &arrived)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.NotFound(req, req.TimeMs), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req, err)
	}
	obj, err := ir.ParseObject([]byte(body))
	if err != nil {
		t.logger.Warn("discarding malformed record", "tier", t.name, "type", req.Type, "id", req.ID, "error", err)
		return protocol.NotFound(req, req.TimeMs), nil
	}
	return protocol.FoundRecord(req, ir.NewRecord(obj), req.TimeMs, arrived), nil
}

func decodeIDs(body string) ([]string, error) {
	v, err := ir.ParseValue([]byte(body))
	if err != nil {
		return nil, err
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return ir.AsStrings(arr)
}

// Store implements tier.Tier.
func (t *Tier) Store(ctx context.Context, resp *protocol.Response) error {
	return tier.StoreResponse(ctx, t, resp)
}

// StoreRecord implements tier.Tier. The row is replaced only when the
// arrival moves forward, or stays equal with different content.
func (t *Tier) StoreRecord(ctx context.Context, typeName, id string, rec ir.Object, arrivedAtMs int64) error {
	if err := tier.ValidateName("type", typeName); err != nil {
		return err
	}
	if err := tier.ValidateName("id", id); err != nil {
		return err
	}
	if rec == nil {
		rec = ir.Object{}
	}
	body, err := ir.MarshalCanonical(rec)
	if err != nil {
		return fmt.Errorf("store record %s/%s: %w", typeName, id, err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO records (type, id, body, arrived_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET
			body = excluded.body,
			arrived_at_ms = excluded.arrived_at_ms
		WHERE excluded.arrived_at_ms > records.arrived_at_ms
		   OR (excluded.arrived_at_ms = records.arrived_at_ms AND excluded.body <> records.body)
	`, typeName, id, string(body), arrivedAtMs)
	if err != nil {
		return fmt.Errorf("store record %s/%s: %w", typeName, id, err)
	}
	return nil
}

// StoreCollection implements tier.Tier.
func (t *Tier) StoreCollection(ctx context.Context, typeName, key string, ids []string, arrivedAtMs int64) error {
	if err := tier.ValidateName("type", typeName); err != nil {
		return err
	}
	if err := tier.ValidateName("collection key", key); err != nil {
		return err
	}
	body, err := ir.MarshalCanonical(ir.Strings(ids...))
	if err != nil {
		return fmt.Errorf("store collection %s[%s]: %w", typeName, key, err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO collections (type, key, ids, arrived_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(type, key) DO UPDATE SET
			ids = excluded.ids,
			arrived_at_ms = excluded.arrived_at_ms
		WHERE excluded.arrived_at_ms > collections.arrived_at_ms
		   OR (excluded.arrived_at_ms = collections.arrived_at_ms AND excluded.ids <> collections.ids)
	`, typeName, key, string(body), arrivedAtMs)
	if err != nil {
		return fmt.Errorf("store collection %s[%s]: %w", typeName, key, err)
	}
	return nil
}

// RemoveRecord implements tier.Remover.
func (t *Tier) RemoveRecord(ctx context.Context, typeName, id string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM records WHERE type = ? AND id = ?`, typeName, id); err != nil {
		return fmt.Errorf("remove record %s/%s: %w", typeName, id, err)
	}
	return nil
}

// RemoveCollection implements tier.Remover.
func (t *Tier) RemoveCollection(ctx context.Context, typeName, key string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM collections WHERE type = ? AND key = ?`, typeName, key); err != nil {
		return fmt.Errorf("remove collection %s[%s]: %w", typeName, key, err)
	}
	return nil
}

type rowRef struct {
	typeName string
	idOrKey  string
	arrived  int64
}

// ClearAll implements tier.Tier. Candidates are selected first, then
// deleted in one transaction.
func (t *Tier) ClearAll(ctx context.Context, opts tier.ClearOptions) error {
	records, err := t.candidates(ctx, `SELECT type, id, arrived_at_ms FROM records`, opts)
	if err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	collections, err := t.candidates(ctx, `SELECT type, key, arrived_at_ms FROM collections`, opts)
	if err != nil {
		return fmt.Errorf("clear collections: %w", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear: begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if !tier.ShouldEvict(opts, t.holds, r.typeName, r.idOrKey, false, r.arrived) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE type = ? AND id = ?`, r.typeName, r.idOrKey); err != nil {
			return fmt.Errorf("clear record %s/%s: %w", r.typeName, r.idOrKey, err)
		}
	}
	for _, r := range collections {
		if !tier.ShouldEvict(opts, t.holds, r.typeName, r.idOrKey, true, r.arrived) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE type = ? AND key = ?`, r.typeName, r.idOrKey); err != nil {
			return fmt.Errorf("clear collection %s[%s]: %w", r.typeName, r.idOrKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear: commit: %w", err)
	}
	return nil
}

func (t *Tier) candidates(ctx context.Context, query string, opts tier.ClearOptions) ([]rowRef, error) {
	var args []any
	if opts.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, opts.Type)
	}
	query += ` ORDER BY type, 2`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rowRef
	for rows.Next() {
		var r rowRef
		if err := rows.Scan(&r.typeName, &r.idOrKey, &r.arrived); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records and collections.
func (t *Tier) Count(ctx context.Context) (records, collections int, err error) {
	if err = t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}
	if err = t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections`).Scan(&collections); err != nil {
		return 0, 0, fmt.Errorf("count collections: %w", err)
	}
	return records, collections, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (t *Tier) verifyPragma(name, expected string) error {
	var value string
	if err := t.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
