package tier

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

const (
	recordPrefix     = "r"
	collectionPrefix = "c"
	keySep           = "\x00"
)

type memEntry struct {
	body      []byte
	record    ir.Object
	ids       []string
	arrivedAt int64
}

// Memory is a process-resident tier backed by go-cache.
//
// Entries optionally expire after a TTL. Expiry is a memory bound, not a
// freshness rule: freshness is always judged from the arrival timestamp.
type Memory struct {
	name  string
	c     *cache.Cache
	holds HeldChecker

	mu sync.Mutex // serializes the compare-and-set in put
}

// NewMemory creates a memory tier. A zero ttl keeps entries until evicted.
func NewMemory(name string, holds HeldChecker, ttl time.Duration) *Memory {
	exp, cleanup := cache.NoExpiration, time.Duration(0)
	if ttl > 0 {
		exp, cleanup = ttl, 2*ttl
	}
	return &Memory{name: name, c: cache.New(exp, cleanup), holds: holds}
}

// Name implements Tier.
func (m *Memory) Name() string { return m.name }

func entryKey(prefix, typeName, idOrKey string) string {
	return prefix + keySep + typeName + keySep + idOrKey
}

func splitEntryKey(k string) (prefix, typeName, idOrKey string, ok bool) {
	parts := strings.SplitN(k, keySep, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Fetch implements Tier.
func (m *Memory) Fetch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Verb.IsBlob() {
		return protocol.NotFound(req, req.TimeMs), nil
	}

	if req.Verb == protocol.VerbQuery {
		v, ok := m.c.Get(entryKey(collectionPrefix, req.Type, req.Key))
		if !ok {
			return protocol.NotFound(req, req.TimeMs), nil
		}
		e := v.(*memEntry)
		return protocol.FoundIDs(req, slices.Clone(e.ids), req.TimeMs, e.arrivedAt), nil
	}

	v, ok := m.c.Get(entryKey(recordPrefix, req.Type, req.ID))
	if !ok {
		return protocol.NotFound(req, req.TimeMs), nil
	}
	e := v.(*memEntry)
	return protocol.FoundRecord(req, ir.NewRecord(e.record), req.TimeMs, e.arrivedAt), nil
}

// Store implements Tier.
func (m *Memory) Store(ctx context.Context, resp *protocol.Response) error {
	return StoreResponse(ctx, m, resp)
}

// StoreRecord implements Tier.
func (m *Memory) StoreRecord(ctx context.Context, typeName, id string, rec ir.Object, arrivedAtMs int64) error {
	if err := ValidateName("type", typeName); err != nil {
		return err
	}
	if err := ValidateName("id", id); err != nil {
		return err
	}
	body, err := ir.MarshalCanonical(rec)
	if err != nil {
		return fmt.Errorf("%s: encode %s/%s: %w", m.name, typeName, id, err)
	}
	m.put(entryKey(recordPrefix, typeName, id), &memEntry{body: body, record: rec.Clone(), arrivedAt: arrivedAtMs})
	return nil
}

// StoreCollection implements Tier.
func (m *Memory) StoreCollection(ctx context.Context, typeName, key string, ids []string, arrivedAtMs int64) error {
	if err := ValidateName("type", typeName); err != nil {
		return err
	}
	if err := ValidateName("collection key", key); err != nil {
		return err
	}
	body, err := ir.MarshalCanonical(ir.Strings(ids...))
	if err != nil {
		return fmt.Errorf("%s: encode %s[%s]: %w", m.name, typeName, key, err)
	}
	m.put(entryKey(collectionPrefix, typeName, key), &memEntry{body: body, ids: slices.Clone(ids), arrivedAt: arrivedAtMs})
	return nil
}

// put replaces an entry unless it is identical or older than what is held.
func (m *Memory) put(k string, e *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.c.Get(k); ok {
		cur := v.(*memEntry)
		if e.arrivedAt < cur.arrivedAt {
			return
		}
		if e.arrivedAt == cur.arrivedAt && bytes.Equal(e.body, cur.body) {
			return
		}
	}
	m.c.Set(k, e, cache.DefaultExpiration)
}

// RemoveRecord implements Remover.
func (m *Memory) RemoveRecord(ctx context.Context, typeName, id string) error {
	m.c.Delete(entryKey(recordPrefix, typeName, id))
	return nil
}

// RemoveCollection implements Remover.
func (m *Memory) RemoveCollection(ctx context.Context, typeName, key string) error {
	m.c.Delete(entryKey(collectionPrefix, typeName, key))
	return nil
}

// ClearAll implements Tier.
func (m *Memory) ClearAll(ctx context.Context, opts ClearOptions) error {
	for k, item := range m.c.Items() {
		prefix, typeName, idOrKey, ok := splitEntryKey(k)
		if !ok {
			continue
		}
		e := item.Object.(*memEntry)
		if ShouldEvict(opts, m.holds, typeName, idOrKey, prefix == collectionPrefix, e.arrivedAt) {
			m.c.Delete(k)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}
