// Package hold tracks records and collections pinned against bulk eviction.
//
// Holds never expire. They are added and removed explicitly and are only
// consulted when a tier runs ClearAll with ExceptHeld set.
package hold

import (
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/layercache/internal/fsutil"
	"github.com/roach88/layercache/internal/ir"
)

// DirName is the directory under the cache root holding persisted holds.
const DirName = "Hold"

type heldSet struct {
	ids  map[string]struct{}
	keys map[string]struct{}
}

func newHeldSet() *heldSet {
	return &heldSet{ids: map[string]struct{}{}, keys: map[string]struct{}{}}
}

func (h *heldSet) clone() *heldSet {
	return &heldSet{ids: maps.Clone(h.ids), keys: maps.Clone(h.keys)}
}

// Registry is the per-type set of held ids and collection keys.
//
// Thread-safety: all methods are safe for concurrent use. Tiers read it
// during eviction while the application edits it.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*heldSet

	// dir is empty for a memory-only registry.
	dir   string
	files fsutil.Files
}

// New creates a memory-only registry.
func New() *Registry {
	return &Registry{types: map[string]*heldSet{}}
}

// Open creates a registry persisted under root/Hold, loading any holds
// already recorded there.
func Open(root string, retry fsutil.RetryPolicy) (*Registry, error) {
	r := &Registry{
		types: map[string]*heldSet{},
		dir:   filepath.Join(root, DirName),
		files: fsutil.Files{Retry: retry},
	}

	names, err := r.files.List(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		typeName, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, fmt.Errorf("hold file %q: %w", name, err)
		}
		set, err := r.load(filepath.Join(r.dir, name))
		if err != nil {
			return nil, fmt.Errorf("load holds for %s: %w", typeName, err)
		}
		r.types[typeName] = set
	}
	return r, nil
}

// Hold pins id of typeName.
func (r *Registry) Hold(typeName, id string) error {
	return r.update(typeName, func(s *heldSet) { s.ids[id] = struct{}{} })
}

// Unhold releases id. Releasing an id that was never held is a no-op.
func (r *Registry) Unhold(typeName, id string) error {
	return r.update(typeName, func(s *heldSet) { delete(s.ids, id) })
}

// IsHeld reports whether id of typeName is pinned.
func (r *Registry) IsHeld(typeName, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.types[typeName]
	if !ok {
		return false
	}
	_, held := s.ids[id]
	return held
}

// HeldIDs returns the pinned ids of typeName, sorted.
func (r *Registry) HeldIDs(typeName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.types[typeName]
	if !ok {
		return []string{}
	}
	return sortedKeys(s.ids)
}

// HoldKey pins collection key of typeName.
func (r *Registry) HoldKey(typeName, key string) error {
	return r.update(typeName, func(s *heldSet) { s.keys[key] = struct{}{} })
}

// UnholdKey releases a collection key. Releasing an unheld key is a no-op.
func (r *Registry) UnholdKey(typeName, key string) error {
	return r.update(typeName, func(s *heldSet) { delete(s.keys, key) })
}

// IsKeyHeld reports whether collection key of typeName is pinned.
func (r *Registry) IsKeyHeld(typeName, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.types[typeName]
	if !ok {
		return false
	}
	_, held := s.keys[key]
	return held
}

// HeldKeys returns the pinned collection keys of typeName, sorted.
func (r *Registry) HeldKeys(typeName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.types[typeName]
	if !ok {
		return []string{}
	}
	return sortedKeys(s.keys)
}

// Types returns every type with at least one hold, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, s := range r.types {
		if len(s.ids)+len(s.keys) > 0 {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// update applies fn to a copy of the type's set, persists the copy, and
// only then publishes it. A failed write leaves the registry unchanged.
func (r *Registry) update(typeName string, fn func(*heldSet)) error {
	if typeName == "" {
		return fmt.Errorf("hold: type name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var next *heldSet
	if cur, ok := r.types[typeName]; ok {
		next = cur.clone()
	} else {
		next = newHeldSet()
	}
	fn(next)

	if r.dir != "" {
		if err := r.persist(typeName, next); err != nil {
			return err
		}
	}
	r.types[typeName] = next
	return nil
}

func (r *Registry) path(typeName string) string {
	return filepath.Join(r.dir, url.PathEscape(typeName)+".json")
}

func (r *Registry) persist(typeName string, s *heldSet) error {
	path := r.path(typeName)
	if len(s.ids)+len(s.keys) == 0 {
		if err := r.files.Remove(path); err != nil {
			return fmt.Errorf("persist holds for %s: %w", typeName, err)
		}
		return nil
	}
	data, err := ir.MarshalCanonical(ir.Object{
		"ids":  ir.Strings(sortedKeys(s.ids)...),
		"keys": ir.Strings(sortedKeys(s.keys)...),
	})
	if err != nil {
		return fmt.Errorf("persist holds for %s: %w", typeName, err)
	}
	if err := r.files.WriteAtomic(path, data, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("persist holds for %s: %w", typeName, err)
	}
	return nil
}

func (r *Registry) load(path string) (*heldSet, error) {
	data, _, err := r.files.Read(path)
	if err != nil {
		return nil, err
	}
	obj, err := ir.ParseObject(data)
	if err != nil {
		return nil, err
	}
	s := newHeldSet()
	for field, dst := range map[string]map[string]struct{}{"ids": s.ids, "keys": s.keys} {
		arr, _ := obj[field].(ir.Array)
		vals, err := ir.AsStrings(arr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		for _, v := range vals {
			dst[v] = struct{}{}
		}
	}
	return s, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := slices.Sorted(maps.Keys(m))
	if out == nil {
		out = []string{}
	}
	return out
}
