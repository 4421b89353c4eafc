// Package protocol defines the Request/Response pair every cache tier and
// origin speaks, the freshness rules that decide whether a cached response
// may be used, and the canonical encoding used to persist requests.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/roach88/layercache/internal/ir"
)

// ErrInvalidRequest marks a malformed request. It is a programming error and
// is never retried.
var ErrInvalidRequest = errors.New("invalid request")

// Verb names the operation a Request performs.
type Verb string

const (
	VerbGet         Verb = "get"
	VerbQuery       Verb = "query"
	VerbCreate      Verb = "create"
	VerbUpdate      Verb = "update"
	VerbReplace     Verb = "replace"
	VerbDestroy     Verb = "destroy"
	VerbBlobGet     Verb = "blob_get"
	VerbBlobPut     Verb = "blob_put"
	VerbBlobDestroy Verb = "blob_destroy"
)

var validVerbs = []Verb{
	VerbGet, VerbQuery, VerbCreate, VerbUpdate, VerbReplace, VerbDestroy,
	VerbBlobGet, VerbBlobPut, VerbBlobDestroy,
}

// Valid reports whether v is a known verb.
func (v Verb) Valid() bool {
	return slices.Contains(validVerbs, v)
}

// IsRead reports whether v only reads data.
func (v Verb) IsRead() bool {
	return v == VerbGet || v == VerbQuery || v == VerbBlobGet
}

// IsWrite reports whether v changes data at the origin.
func (v Verb) IsWrite() bool {
	return v.Valid() && !v.IsRead()
}

// IsBlob reports whether v addresses binary content. Blob verbs bypass cache tiers.
func (v Verb) IsBlob() bool {
	return v == VerbBlobGet || v == VerbBlobPut || v == VerbBlobDestroy
}

// Freshness sentinels, in seconds.
const (
	// FreshnessRejectStale demands data no cache can vouch for: the origin
	// must answer, and if it cannot, the read fails instead of degrading.
	FreshnessRejectStale = -1

	// FreshnessAny accepts a cached value of any age.
	FreshnessAny = math.MaxInt32
)

// Request describes one operation. Requests are immutable once constructed:
// factories copy their slice and map arguments, and every layer treats the
// fields as read-only.
type Request struct {
	Verb Verb
	Type string

	// ID addresses a single record (Get, Update, Replace, Destroy, Blob*).
	ID string

	// Key addresses a collection (Query). Derived from Type + query name +
	// Criteria by NewQuery, or supplied directly by NewCollection.
	Key string

	Criteria ir.Object

	// Value is the payload. For updates, Value.Overrides holds the changed
	// fields and Extra holds the pre-change snapshot.
	Value ir.Record
	Extra ir.Object

	Blob []byte

	FreshnessSeconds int
	Populate         []string

	// TimeMs is the clock value at issuance.
	TimeMs int64
}

// NewGet builds a request for one record.
func NewGet(typeName, id string, freshness int, timeMs int64, populate ...string) *Request {
	return &Request{
		Verb:             VerbGet,
		Type:             typeName,
		ID:               id,
		FreshnessSeconds: freshness,
		Populate:         slices.Clone(populate),
		TimeMs:           timeMs,
	}
}

// NewQuery builds a request for a named query. The collection key is
// derived from the type name, the query name and the criteria.
func NewQuery(typeName, queryName string, criteria ir.Object, freshness int, timeMs int64, populate ...string) (*Request, error) {
	key, err := ir.QueryKey(typeName, queryName, criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return NewCollection(typeName, key, criteria, freshness, timeMs, populate...), nil
}

// NewCollection builds a query request for an explicit collection key.
func NewCollection(typeName, key string, criteria ir.Object, freshness int, timeMs int64, populate ...string) *Request {
	return &Request{
		Verb:             VerbQuery,
		Type:             typeName,
		Key:              key,
		Criteria:         criteria.Clone(),
		FreshnessSeconds: freshness,
		Populate:         slices.Clone(populate),
		TimeMs:           timeMs,
	}
}

// NewCreate builds a create request. The id may be empty when the origin assigns it.
func NewCreate(typeName string, value ir.Object, timeMs int64) *Request {
	rec := ir.NewRecord(value.Clone())
	return &Request{Verb: VerbCreate, Type: typeName, ID: rec.ID(), Value: rec, TimeMs: timeMs}
}

// NewUpdate builds an update from a record whose overrides are the changes.
// The base snapshot travels as Extra so the origin can see what was edited.
func NewUpdate(typeName string, rec ir.Record, timeMs int64) *Request {
	return &Request{
		Verb:   VerbUpdate,
		Type:   typeName,
		ID:     rec.ID(),
		Value:  ir.Record{Base: rec.Base.Clone(), Overrides: rec.Overrides.Clone()},
		Extra:  rec.Base.Clone(),
		TimeMs: timeMs,
	}
}

// NewReplace builds a request that overwrites a record wholesale.
func NewReplace(typeName string, value ir.Object, timeMs int64) *Request {
	rec := ir.NewRecord(value.Clone())
	return &Request{Verb: VerbReplace, Type: typeName, ID: rec.ID(), Value: rec, TimeMs: timeMs}
}

// NewDestroy builds a delete request.
func NewDestroy(typeName, id string, timeMs int64) *Request {
	return &Request{Verb: VerbDestroy, Type: typeName, ID: id, TimeMs: timeMs}
}

// NewBlobGet builds a request for binary content attached to a record.
func NewBlobGet(typeName, id string, timeMs int64) *Request {
	return &Request{Verb: VerbBlobGet, Type: typeName, ID: id, FreshnessSeconds: FreshnessRejectStale, TimeMs: timeMs}
}

// NewBlobPut builds a request storing binary content.
func NewBlobPut(typeName, id string, data []byte, timeMs int64) *Request {
	return &Request{Verb: VerbBlobPut, Type: typeName, ID: id, Blob: slices.Clone(data), TimeMs: timeMs}
}

// NewBlobDestroy builds a request deleting binary content.
func NewBlobDestroy(typeName, id string, timeMs int64) *Request {
	return &Request{Verb: VerbBlobDestroy, Type: typeName, ID: id, TimeMs: timeMs}
}

// Validate checks that the request is well formed for its verb.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if !r.Verb.Valid() {
		return fmt.Errorf("%w: unknown verb %q", ErrInvalidRequest, r.Verb)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: %s: type is required", ErrInvalidRequest, r.Verb)
	}
	switch r.Verb {
	case VerbQuery:
		if r.Key == "" {
			return fmt.Errorf("%w: query %s: collection key is required", ErrInvalidRequest, r.Type)
		}
	case VerbCreate:
		// Origin may assign the identifier.
	default:
		if r.ID == "" {
			return fmt.Errorf("%w: %s %s: id is required", ErrInvalidRequest, r.Verb, r.Type)
		}
	}
	return nil
}

// AcceptsAnyAge reports whether the freshness check is disabled.
func (r *Request) AcceptsAnyAge() bool {
	return r.FreshnessSeconds == FreshnessAny
}

// RejectsStale reports whether the request must fail rather than fall back
// to stale data. Any negative freshness is read as FreshnessRejectStale.
func (r *Request) RejectsStale() bool {
	return r.FreshnessSeconds < 0
}

// String renders a short description for logs.
func (r *Request) String() string {
	switch {
	case r == nil:
		return "<nil>"
	case r.Verb == VerbQuery:
		return fmt.Sprintf("%s %s[%s]", r.Verb, r.Type, r.Key)
	default:
		return fmt.Sprintf("%s %s/%s", r.Verb, r.Type, r.ID)
	}
}
