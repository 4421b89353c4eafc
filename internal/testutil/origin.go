// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/engine"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// FakeOrigin is an in-memory engine.Origin with an online switch and call
// recording.
//
// Queries answer from an explicit collection set with SetCollection, or,
// failing that, by matching every criteria field against stored records.
// Answers carry identifiers only, so the orchestrator resolves members.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeOrigin struct {
	mu sync.Mutex

	clock       clock.Source
	schema      *ir.Schema
	ids         engine.IdentifierGenerator
	records     map[string]map[string]ir.Object
	collections map[string]map[string][]string
	blobs       map[string][]byte

	offline  bool
	failWith error
	calls    []*protocol.Request
	auth     []string
}

var _ engine.Origin = (*FakeOrigin)(nil)

// NewFakeOrigin creates an online origin reading time from src.
func NewFakeOrigin(src clock.Source, types ...ir.TypeDescriptor) *FakeOrigin {
	return &FakeOrigin{
		clock:       src,
		schema:      ir.NewSchema(types...),
		ids:         engine.UUIDv7Generator{},
		records:     map[string]map[string]ir.Object{},
		collections: map[string]map[string][]string{},
		blobs:       map[string][]byte{},
	}
}

// WithIdentifiers replaces the identifier generator.
func (f *FakeOrigin) WithIdentifiers(g engine.IdentifierGenerator) *FakeOrigin {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = g
	return f
}

// Put stores a record at the origin.
func (f *FakeOrigin) Put(typeName string, rec ir.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(typeName, rec)
}

func (f *FakeOrigin) put(typeName string, rec ir.Object) {
	if f.records[typeName] == nil {
		f.records[typeName] = map[string]ir.Object{}
	}
	f.records[typeName][ir.NewRecord(rec).ID()] = rec.Clone()
}

// Delete removes a record from the origin.
func (f *FakeOrigin) Delete(typeName, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records[typeName], id)
}

// Record returns the origin's copy of a record.
func (f *FakeOrigin) Record(typeName, id string) (ir.Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[typeName][id]
	return rec.Clone(), ok
}

// SetCollection fixes the identifiers a collection key answers with.
func (f *FakeOrigin) SetCollection(typeName, key string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collections[typeName] == nil {
		f.collections[typeName] = map[string][]string{}
	}
	f.collections[typeName][key] = slices.Clone(ids)
}

// SetOnline switches reachability. Offline calls fail with engine.ErrNoNetwork.
func (f *FakeOrigin) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = !online
}

// FailWith makes every call fail with err until cleared with nil.
func (f *FakeOrigin) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

// Calls returns every request Process received, in order.
func (f *FakeOrigin) Calls() []*protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns how many requests with verb Process received.
func (f *FakeOrigin) CallCount(verb protocol.Verb) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Verb == verb {
			n++
		}
	}
	return n
}

// AuthenticatedTypes returns the type names EnsureAuthenticated was called with.
func (f *FakeOrigin) AuthenticatedTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.auth)
}

// ResetCalls forgets recorded calls.
func (f *FakeOrigin) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.auth = nil
}

// CurrentTimeMs implements engine.Origin.
func (f *FakeOrigin) CurrentTimeMs() int64 {
	return f.clock.NowMs()
}

// EnsureAuthenticated implements engine.Origin.
func (f *FakeOrigin) EnsureAuthenticated(ctx context.Context, typeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, typeName)
	return nil
}

// ResolveType implements engine.Origin.
func (f *FakeOrigin) ResolveType(name string) (ir.TypeDescriptor, error) {
	return f.schema.Lookup(name)
}

// NewIdentifier implements engine.Origin.
func (f *FakeOrigin) NewIdentifier() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids.Generate()
}

// ListTypes implements engine.Origin.
func (f *FakeOrigin) ListTypes() []ir.TypeDescriptor {
	var out []ir.TypeDescriptor
	for _, n := range f.schema.Names() {
		if d, err := f.schema.Lookup(n); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// Process implements engine.Origin.
func (f *FakeOrigin) Process(ctx context.Context, req *protocol.Request, online bool) (*protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.offline {
		return nil, engine.ErrNoNetwork
	}

	now := f.clock.NowMs()
	switch req.Verb {
	case protocol.VerbGet:
		rec, ok := f.records[req.Type][req.ID]
		if !ok {
			return protocol.NotFound(req, now), nil
		}
		return protocol.FoundRecord(req, ir.NewRecord(rec.Clone()), now, now), nil

	case protocol.VerbQuery:
		if ids, ok := f.collections[req.Type][req.Key]; ok {
			return protocol.FoundIDs(req, slices.Clone(ids), now, now), nil
		}
		if len(req.Criteria) == 0 {
			return protocol.NotFound(req, now), nil
		}
		return protocol.FoundIDs(req, f.match(req.Type, req.Criteria), now, now), nil

	case protocol.VerbCreate, protocol.VerbReplace:
		rec := req.Value.Materialize()
		if ir.NewRecord(rec).ID() == "" {
			rec[ir.IDField] = ir.String(f.ids.Generate())
		}
		f.put(req.Type, rec)
		return protocol.FoundRecord(req, ir.NewRecord(rec), now, now), nil

	case protocol.VerbUpdate:
		cur, ok := f.records[req.Type][req.ID]
		if !ok {
			return protocol.NotFound(req, now), nil
		}
		merged := cur.Clone()
		maps.Copy(merged, req.Value.Overrides)
		f.put(req.Type, merged)
		return protocol.FoundRecord(req, ir.NewRecord(merged), now, now), nil

	case protocol.VerbDestroy:
		delete(f.records[req.Type], req.ID)
		return protocol.NotFound(req, now), nil

	case protocol.VerbBlobGet:
		data, ok := f.blobs[req.Type+"/"+req.ID]
		if !ok {
			return protocol.NotFound(req, now), nil
		}
		return &protocol.Response{Request: req, TimeMs: now, Exists: true, Blob: slices.Clone(data), ArrivedAtMs: now}, nil

	case protocol.VerbBlobPut:
		f.blobs[req.Type+"/"+req.ID] = slices.Clone(req.Blob)
		return &protocol.Response{Request: req, TimeMs: now, Exists: true, ArrivedAtMs: now}, nil

	case protocol.VerbBlobDestroy:
		delete(f.blobs, req.Type+"/"+req.ID)
		return protocol.NotFound(req, now), nil
	}
	return nil, fmt.Errorf("fake origin: unsupported verb %q", req.Verb)
}

// match returns the ids of records whose fields equal every criteria value,
// in id order.
func (f *FakeOrigin) match(typeName string, criteria ir.Object) []string {
	ids := []string{}
	for _, id := range slices.Sorted(maps.Keys(f.records[typeName])) {
		rec := f.records[typeName][id]
		if matches(rec, criteria) {
			ids = append(ids, id)
		}
	}
	return ids
}

func matches(rec, criteria ir.Object) bool {
	for field, want := range criteria {
		got, ok := rec[field]
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

func equalValues(a, b ir.Value) bool {
	as, aok := ir.Scalar(a)
	bs, bok := ir.Scalar(b)
	if aok && bok {
		return as == bs
	}
	ab, errA := ir.MarshalCanonical(a)
	bb, errB := ir.MarshalCanonical(b)
	return errors.Join(errA, errB) == nil && string(ab) == string(bb)
}
