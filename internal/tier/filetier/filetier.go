// Package filetier implements a cache tier stored as one JSON file per
// record and per collection.
//
// Layout under the tier root:
//
//	{Type}/Models/{id}.json
//	{Type}/Collections/{key}.json
//
// Each file holds an envelope {"value": ...}. The file's modification time
// is the entry's arrival timestamp; there is no separate metadata file.
package filetier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/layercache/internal/fsutil"
	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/journal"
	"github.com/roach88/layercache/internal/protocol"
	"github.com/roach88/layercache/internal/tier"
)

const (
	modelsDir      = "Models"
	collectionsDir = "Collections"
	fileExt        = ".json"
	envelopeField  = "value"
)

// reservedDirs are owned by other components when the tier shares the cache
// root. They are never read or written as type directories.
var reservedDirs = map[string]bool{
	hold.DirName:    true,
	journal.DirName: true,
}

func validateType(typeName string) error {
	if err := tier.ValidateName("type", typeName); err != nil {
		return err
	}
	if reservedDirs[escape(typeName)] {
		return fmt.Errorf("type name %q is reserved", typeName)
	}
	return nil
}

// Tier is the file-backed cache tier.
type Tier struct {
	name   string
	root   string
	files  fsutil.Files
	holds  tier.HeldChecker
	logger *slog.Logger
}

// Option configures a Tier.
type Option func(*Tier)

// WithName overrides the tier name used in logs.
func WithName(name string) Option {
	return func(t *Tier) { t.name = name }
}

// WithRetry sets the retry policy wrapped around every file operation.
func WithRetry(p fsutil.RetryPolicy) Option {
	return func(t *Tier) { t.files.Retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tier) { t.logger = l }
}

// Open creates the tier root if needed and returns a Tier rooted there.
func Open(root string, holds tier.HeldChecker, opts ...Option) (*Tier, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("open file tier %s: %w", root, err)
	}
	t := &Tier{
		name:   "file",
		root:   root,
		holds:  holds,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements tier.Tier.
func (t *Tier) Name() string { return t.name }

// Root returns the directory the tier lives in.
func (t *Tier) Root() string { return t.root }

// escape maps a type name, id or key onto a single path segment. A leading
// dot is escaped so "..", "." and temp-file prefixes cannot be produced.
func escape(name string) string {
	e := url.PathEscape(name)
	if strings.HasPrefix(e, ".") {
		e = "%2E" + e[1:]
	}
	return e
}

func (t *Tier) recordPath(typeName, id string) string {
	return filepath.Join(t.root, escape(typeName), modelsDir, escape(id)+fileExt)
}

func (t *Tier) collectionPath(typeName, key string) string {
	return filepath.Join(t.root, escape(typeName), collectionsDir, escape(key)+fileExt)
}

// EncodeEnvelope wraps v in the on-disk envelope.
func EncodeEnvelope(v ir.Value) ([]byte, error) {
	return ir.MarshalCanonical(ir.Object{envelopeField: v})
}

// DecodeEnvelope unwraps an on-disk envelope.
func DecodeEnvelope(data []byte) (ir.Value, error) {
	obj, err := ir.ParseObject(data)
	if err != nil {
		return nil, err
	}
	v, ok := obj[envelopeField]
	if !ok {
		return nil, fmt.Errorf("envelope: missing %q", envelopeField)
	}
	return v, nil
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
		v, arrived, ok, err := t.read(t.collectionPath(req.Type, req.Key))
		if err != nil || !ok {
			return protocol.NotFound(req, req.TimeMs), err
		}
		arr, isArr := v.(ir.Array)
		if !isArr {
			t.logger.Warn("discarding malformed collection", "tier", t.name, "type", req.Type, "key", req.Key)
			return protocol.NotFound(req, req.TimeMs), nil
		}
		ids, err := ir.AsStrings(arr)
		if err != nil {
			t.logger.Warn("discarding malformed collection", "tier", t.name, "type", req.Type, "key", req.Key, "error", err)
			return protocol.NotFound(req, req.TimeMs), nil
		}
		return protocol.FoundIDs(req, ids, req.TimeMs, arrived), nil
	}

	v, arrived, ok, err := t.read(t.recordPath(req.Type, req.ID))
	if err != nil || !ok {
		return protocol.NotFound(req, req.TimeMs), err
	}
	obj, isObj := v.(ir.Object)
	if !isObj {
		t.logger.Warn("discarding malformed record", "tier", t.name, "type", req.Type, "id", req.ID)
		return protocol.NotFound(req, req.TimeMs), nil
	}
	return protocol.FoundRecord(req, ir.NewRecord(obj), req.TimeMs, arrived), nil
}

// read loads and unwraps one entry. Missing files report ok=false; files
// that do not decode are logged and treated as missing.
func (t *Tier) read(path string) (v ir.Value, arrivedAtMs int64, ok bool, err error) {
	data, modMs, err := t.files.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("%s: read %s: %w", t.name, path, err)
	}
	v, err = DecodeEnvelope(data)
	if err != nil {
		t.logger.Warn("discarding undecodable cache file", "tier", t.name, "path", path, "error", err)
		return nil, 0, false, nil
	}
	return v, modMs, true, nil
}

// Store implements tier.Tier.
func (t *Tier) Store(ctx context.Context, resp *protocol.Response) error {
	return tier.StoreResponse(ctx, t, resp)
}

// StoreRecord implements tier.Tier.
func (t *Tier) StoreRecord(ctx context.Context, typeName, id string, rec ir.Object, arrivedAtMs int64) error {
	if err := validateType(typeName); err != nil {
		return err
	}
	if err := tier.ValidateName("id", id); err != nil {
		return err
	}
	if rec == nil {
		rec = ir.Object{}
	}
	return t.write(t.recordPath(typeName, id), rec, arrivedAtMs)
}

// StoreCollection implements tier.Tier.
func (t *Tier) StoreCollection(ctx context.Context, typeName, key string, ids []string, arrivedAtMs int64) error {
	if err := validateType(typeName); err != nil {
		return err
	}
	if err := tier.ValidateName("collection key", key); err != nil {
		return err
	}
	return t.write(t.collectionPath(typeName, key), ir.Strings(ids...), arrivedAtMs)
}

// write persists v at path unless the file already holds the same bytes with
// the same timestamp, or holds a newer entry.
func (t *Tier) write(path string, v ir.Value, arrivedAtMs int64) error {
	data, err := EncodeEnvelope(v)
	if err != nil {
		return fmt.Errorf("%s: encode %s: %w", t.name, path, err)
	}

	existing, modMs, err := t.files.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("%s: read %s: %w", t.name, path, err)
	case arrivedAtMs < modMs:
		t.logger.Debug("skipping older store", "tier", t.name, "path", path, "arrived_ms", arrivedAtMs, "stored_ms", modMs)
		return nil
	case modMs == arrivedAtMs && bytes.Equal(existing, data):
		return nil
	case bytes.Equal(existing, data):
		return t.files.Touch(path, arrivedAtMs)
	}

	if err := t.files.WriteAtomic(path, data, arrivedAtMs); err != nil {
		return fmt.Errorf("%s: write %s: %w", t.name, path, err)
	}
	return nil
}

// RemoveRecord implements tier.Remover.
func (t *Tier) RemoveRecord(ctx context.Context, typeName, id string) error {
	return t.files.Remove(t.recordPath(typeName, id))
}

// RemoveCollection implements tier.Remover.
func (t *Tier) RemoveCollection(ctx context.Context, typeName, key string) error {
	return t.files.Remove(t.collectionPath(typeName, key))
}

// ClearAll implements tier.Tier. Type directories are discovered from disk.
func (t *Tier) ClearAll(ctx context.Context, opts tier.ClearOptions) error {
	entries, err := os.ReadDir(t.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: list %s: %w", t.name, t.root, err)
	}

	for _, e := range entries {
		if !e.IsDir() || reservedDirs[e.Name()] {
			continue
		}
		typeName, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		if opts.Type != "" && opts.Type != typeName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		typeDir := filepath.Join(t.root, e.Name())
		if err := t.clearDir(filepath.Join(typeDir, modelsDir), typeName, false, opts); err != nil {
			return err
		}
		if err := t.clearDir(filepath.Join(typeDir, collectionsDir), typeName, true, opts); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tier) clearDir(dir, typeName string, collection bool, opts tier.ClearOptions) error {
	names, err := t.files.List(dir)
	if err != nil {
		return fmt.Errorf("%s: list %s: %w", t.name, dir, err)
	}
	for _, name := range names {
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		idOrKey, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		modMs, err := t.files.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: stat %s: %w", t.name, path, err)
		}
		if !tier.ShouldEvict(opts, t.holds, typeName, idOrKey, collection, modMs) {
			continue
		}
		if err := t.files.Remove(path); err != nil {
			return fmt.Errorf("%s: remove %s: %w", t.name, path, err)
		}
	}
	return nil
}
