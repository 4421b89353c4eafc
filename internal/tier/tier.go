// Package tier defines the cache tier contract and the memory-resident tier.
//
// A tier answers Fetch with a Response (non-present on miss, never an error
// for a plain miss), persists Responses handed back by the orchestrator,
// and evicts in bulk with ClearAll. Tiers are interchangeable: the
// orchestrator only ever sees this interface.
//
// Tiers persist record snapshots (Record.Base) only. Overrides carry
// transient associations and are never written.
package tier

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

var (
	// ErrInvalidIdentifier marks an id, key or type name a tier cannot address.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrTypeMismatch marks a response whose record does not belong to the request.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Tier is one ordered cache participant.
type Tier interface {
	// Name identifies the tier in logs.
	Name() string

	// Fetch looks up the request's record or collection. A miss is a
	// non-present Response, not an error.
	Fetch(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

	// Store persists a response: records, collections, and removals for
	// non-present or destroyed results.
	Store(ctx context.Context, resp *protocol.Response) error

	// StoreRecord persists one record snapshot.
	StoreRecord(ctx context.Context, typeName, id string, rec ir.Object, arrivedAtMs int64) error

	// StoreCollection persists an ordered identifier list.
	StoreCollection(ctx context.Context, typeName, key string, ids []string, arrivedAtMs int64) error

	// ClearAll evicts entries in bulk.
	ClearAll(ctx context.Context, opts ClearOptions) error
}

// HeldChecker is the read-only view of the hold registry tiers consult
// during eviction. *hold.Registry implements it.
type HeldChecker interface {
	IsHeld(typeName, id string) bool
	IsKeyHeld(typeName, key string) bool
}

// ClearOptions selects what ClearAll evicts.
type ClearOptions struct {
	// ExceptHeld keeps entries whose id or collection key is held.
	ExceptHeld bool

	// OlderThanMs, when positive, keeps entries that arrived after it.
	OlderThanMs int64

	// Type restricts eviction to one record type. Empty means every type.
	Type string
}

// ShouldEvict decides one entry's fate. The age check runs before the held
// check; an entry is evicted only if it passes both.
func ShouldEvict(opts ClearOptions, holds HeldChecker, typeName, idOrKey string, collection bool, arrivedAtMs int64) bool {
	if opts.Type != "" && opts.Type != typeName {
		return false
	}
	if opts.OlderThanMs > 0 && arrivedAtMs > opts.OlderThanMs {
		return false
	}
	if opts.ExceptHeld && holds != nil {
		if collection && holds.IsKeyHeld(typeName, idOrKey) {
			return false
		}
		if !collection && holds.IsHeld(typeName, idOrKey) {
			return false
		}
	}
	return true
}

// Remover is implemented by tiers that can drop single entries. Together
// with StoreRecord and StoreCollection it is enough for StoreResponse.
type Remover interface {
	RemoveRecord(ctx context.Context, typeName, id string) error
	RemoveCollection(ctx context.Context, typeName, key string) error
}

type responseStore interface {
	Remover
	StoreRecord(ctx context.Context, typeName, id string, rec ir.Object, arrivedAtMs int64) error
	StoreCollection(ctx context.Context, typeName, key string, ids []string, arrivedAtMs int64) error
}

// StoreResponse is the shared Store implementation: it maps a response onto
// record and collection writes and removals.
func StoreResponse(ctx context.Context, s responseStore, resp *protocol.Response) error {
	if resp == nil || resp.Request == nil {
		return fmt.Errorf("store: response without request")
	}
	req := resp.Request

	switch {
	case req.Verb.IsBlob():
		return nil

	case req.Verb == protocol.VerbQuery:
		if !resp.Exists {
			return s.RemoveCollection(ctx, req.Type, req.Key)
		}
		ids := resp.IDs
		if ids == nil && resp.Records != nil {
			ids = make([]string, len(resp.Records))
			for i, r := range resp.Records {
				ids[i] = r.ID()
			}
		}
		for _, rec := range resp.Records {
			if err := s.StoreRecord(ctx, req.Type, rec.ID(), rec.Base, resp.ArrivedAtMs); err != nil {
				return err
			}
		}
		return s.StoreCollection(ctx, req.Type, req.Key, ids, resp.ArrivedAtMs)

	case req.Verb == protocol.VerbDestroy || !resp.Exists:
		id := req.ID
		if id == "" {
			id = resp.Record.ID()
		}
		if id == "" {
			return nil
		}
		return s.RemoveRecord(ctx, req.Type, id)

	default:
		id := resp.Record.ID()
		if id == "" {
			id = req.ID
		}
		if req.ID != "" && id != req.ID {
			return fmt.Errorf("%w: %s answered with record %q", ErrTypeMismatch, req, id)
		}
		return s.StoreRecord(ctx, req.Type, id, resp.Record.Base, resp.ArrivedAtMs)
	}
}

// ValidateName rejects empty names.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidIdentifier, kind)
	}
	return nil
}
