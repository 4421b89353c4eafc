package protocol

import (
	"github.com/roach88/layercache/internal/ir"
)

// ResultKind classifies what a Response carries.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultRecord
	ResultRecords
	ResultIDs
)

// Response is the outcome of executing a Request against a tier or the origin.
type Response struct {
	Request *Request

	// TimeMs is the clock value when the response was produced. Freshness is
	// measured as TimeMs - ArrivedAtMs.
	TimeMs int64

	// Connected reports whether the origin could be reached, if it was consulted.
	Connected bool

	Exists bool

	// Record holds a single-record result.
	Record ir.Record

	// Records holds materialized collection members in collection order. A nil
	// slice means the collection has not been materialized yet.
	Records []ir.Record

	// IDs holds the collection's identifier list.
	IDs []string

	Blob []byte

	// ArrivedAtMs is when this value was first obtained from the origin.
	ArrivedAtMs int64
}

// NotFound builds a non-present response.
func NotFound(req *Request, timeMs int64) *Response {
	return &Response{Request: req, TimeMs: timeMs}
}

// FoundRecord builds a single-record response.
func FoundRecord(req *Request, rec ir.Record, timeMs, arrivedAtMs int64) *Response {
	return &Response{Request: req, TimeMs: timeMs, Exists: true, Record: rec, ArrivedAtMs: arrivedAtMs}
}

// FoundIDs builds a collection response carrying identifiers only.
func FoundIDs(req *Request, ids []string, timeMs, arrivedAtMs int64) *Response {
	if ids == nil {
		ids = []string{}
	}
	return &Response{Request: req, TimeMs: timeMs, Exists: true, IDs: ids, ArrivedAtMs: arrivedAtMs}
}

// FoundRecords builds a materialized collection response. IDs are derived
// from the records.
func FoundRecords(req *Request, recs []ir.Record, timeMs, arrivedAtMs int64) *Response {
	if recs == nil {
		recs = []ir.Record{}
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID()
	}
	return &Response{Request: req, TimeMs: timeMs, Exists: true, Records: recs, IDs: ids, ArrivedAtMs: arrivedAtMs}
}

// Kind reports what the result holds.
func (r *Response) Kind() ResultKind {
	switch {
	case r == nil || !r.Exists:
		return ResultNone
	case r.Records != nil:
		return ResultRecords
	case r.IDs != nil:
		return ResultIDs
	case !r.Record.IsZero():
		return ResultRecord
	default:
		return ResultNone
	}
}

// HasIDs reports whether the result is an unresolved identifier list.
func (r *Response) HasIDs() bool {
	return r.Kind() == ResultIDs
}

// HasRecords reports whether the result holds materialized records.
func (r *Response) HasRecords() bool {
	k := r.Kind()
	return k == ResultRecord || k == ResultRecords
}

// AgeMs is how old the value was when the response was produced.
func (r *Response) AgeMs() int64 {
	return r.TimeMs - r.ArrivedAtMs
}

// IsFresh reports whether the response is present and young enough for its request.
//
// A response is present-and-fresh iff Exists is true and either the request
// accepts any age or AgeMs() <= FreshnessSeconds*1000. With
// FreshnessRejectStale no cached value qualifies.
func (r *Response) IsFresh() bool {
	if r == nil || !r.Exists {
		return false
	}
	if r.Request == nil {
		return false
	}
	if r.Request.AcceptsAnyAge() {
		return true
	}
	if r.Request.RejectsStale() {
		return false
	}
	return r.AgeMs() <= int64(r.Request.FreshnessSeconds)*1000
}

// WithRequest returns a shallow copy answering req instead. Used when a
// nested lookup's answer is re-attached to an outer request.
func (r *Response) WithRequest(req *Request) *Response {
	out := *r
	out.Request = req
	return &out
}
