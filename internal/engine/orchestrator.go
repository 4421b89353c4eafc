package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/journal"
	"github.com/roach88/layercache/internal/protocol"
	"github.com/roach88/layercache/internal/tier"
)

// DefaultConcurrency is the identifier-resolution ceiling.
const DefaultConcurrency = 10

// MaxConcurrency bounds WithConcurrency.
const MaxConcurrency = 100

// Orchestrator is the single entry point for cached data access.
//
// Thread-safety model:
//   - Process and ClearAll: safe from any goroutine; top-level requests are
//     serialized through one critical section
//   - Nested requests issued while resolving a top-level request run
//     concurrently inside that section
//   - Online, Holds, Journal, Types: safe from any goroutine
type Orchestrator struct {
	mu sync.Mutex

	origin      Origin
	tiers       []tier.Tier
	holds       *hold.Registry
	journal     *journal.Journal
	schema      *ir.Schema
	policy      *ErrorPolicy
	concurrency int
	logger      *slog.Logger

	online atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTiers sets the cache tiers, nearest to the application first.
func WithTiers(tiers ...tier.Tier) Option {
	return func(o *Orchestrator) {
		o.tiers = slices.Clone(tiers)
	}
}

// WithHolds sets the hold registry. The same registry should be handed to
// every tier so eviction and the Orchestrator agree on what is held.
func WithHolds(h *hold.Registry) Option {
	return func(o *Orchestrator) {
		o.holds = h
	}
}

// WithJournal sets the pending-change journal used by Enqueue.
func WithJournal(j *journal.Journal) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

// WithSchema declares record types locally instead of asking the Origin.
func WithSchema(s *ir.Schema) Option {
	return func(o *Orchestrator) {
		o.schema = s
	}
}

// WithErrorPolicy sets the filter and reporter chains applied to errors
// returned from Process.
func WithErrorPolicy(p *ErrorPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithConcurrency sets how many identifiers are resolved in parallel.
//
// Default: 10 (DefaultConcurrency). Values are clamped to 1..MaxConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = min(max(n, 1), MaxConcurrency)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator over origin. It starts online.
func New(origin Origin, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		origin:      origin,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.holds == nil {
		o.holds = hold.New()
	}
	o.online.Store(true)
	return o
}

// Online reports the connectivity state.
func (o *Orchestrator) Online() bool {
	return o.online.Load()
}

// Holds returns the hold registry.
func (o *Orchestrator) Holds() *hold.Registry {
	return o.holds
}

// Journal returns the pending-change journal, or nil if none is configured.
func (o *Orchestrator) Journal() *journal.Journal {
	return o.journal
}

// Tiers returns the configured tiers, nearest first.
func (o *Orchestrator) Tiers() []tier.Tier {
	return slices.Clone(o.tiers)
}

// Now returns the origin clock, used to stamp new requests.
func (o *Orchestrator) Now() int64 {
	return o.origin.CurrentTimeMs()
}

// NewIdentifier asks the origin for a fresh record identifier.
func (o *Orchestrator) NewIdentifier() string {
	return o.origin.NewIdentifier()
}

// Types lists the known record types.
func (o *Orchestrator) Types() []ir.TypeDescriptor {
	if o.schema == nil {
		return o.origin.ListTypes()
	}
	names := o.schema.Names()
	out := make([]ir.TypeDescriptor, 0, len(names))
	for _, n := range names {
		if d, err := o.schema.Lookup(n); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// Process executes req and returns its response.
//
// Errors pass through the error policy. If a filter drops the error, the
// caller receives a non-present response instead.
func (o *Orchestrator) Process(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	resp, err := o.process(ctx, req)
	if err == nil {
		return resp, nil
	}
	if err = o.policy.Handle(ctx, req, err); err != nil {
		return nil, err
	}
	out := protocol.NotFound(req, o.Now())
	out.Connected = o.Online()
	return out, nil
}

// Get is a convenience wrapper issuing a Get stamped with the origin clock.
func (o *Orchestrator) Get(ctx context.Context, typeName, id string, freshness int, populate ...string) (*protocol.Response, error) {
	return o.Process(ctx, protocol.NewGet(typeName, id, freshness, o.Now(), populate...))
}

// Query is a convenience wrapper issuing a named query stamped with the origin clock.
func (o *Orchestrator) Query(ctx context.Context, typeName, queryName string, criteria ir.Object, freshness int, populate ...string) (*protocol.Response, error) {
	req, err := protocol.NewQuery(typeName, queryName, criteria, freshness, o.Now(), populate...)
	if err != nil {
		return nil, err
	}
	return o.Process(ctx, req)
}

// Enqueue appends a write request to the pending-change journal. Callers
// use it after a write failed with an operation-not-available-offline error.
func (o *Orchestrator) Enqueue(ctx context.Context, req *protocol.Request) (string, error) {
	if o.journal == nil {
		return "", errors.New("enqueue: no journal configured")
	}
	return o.journal.Append(ctx, req)
}

// ClearAll runs bulk eviction on every tier.
func (o *Orchestrator) ClearAll(ctx context.Context, opts tier.ClearOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for _, t := range o.tiers {
		if err := t.ClearAll(ctx, opts); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// process is the lock-free core shared by top-level and nested requests.
func (o *Orchestrator) process(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	desc, err := o.describe(req.Type)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Verb.IsBlob():
		return o.blob(ctx, req)
	case req.Verb.IsRead():
		return o.read(ctx, req, desc)
	default:
		return o.write(ctx, req)
	}
}

func (o *Orchestrator) describe(typeName string) (ir.TypeDescriptor, error) {
	if o.schema != nil {
		return o.schema.Lookup(typeName)
	}
	d, err := o.origin.ResolveType(typeName)
	if err != nil {
		return ir.TypeDescriptor{}, fmt.Errorf("resolve type %q: %w", typeName, err)
	}
	return d, nil
}

// callOrigin runs one origin round trip and drives the connectivity state.
func (o *Orchestrator) callOrigin(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if err := o.origin.EnsureAuthenticated(ctx, req.Type); err != nil {
		return nil, o.originFailure(req, err)
	}

	resp, err := o.origin.Process(ctx, req, o.Online())
	if err != nil {
		return nil, o.originFailure(req, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("origin returned no response for %s", req)
	}
	o.setOnline(true)

	out := resp.WithRequest(req)
	out.Connected = true
	if out.TimeMs == 0 {
		out.TimeMs = o.origin.CurrentTimeMs()
	}
	if out.Exists && out.ArrivedAtMs == 0 {
		out.ArrivedAtMs = out.TimeMs
	}
	return out, nil
}

func (o *Orchestrator) originFailure(req *protocol.Request, err error) error {
	if !IsNetworkError(err) {
		return err
	}
	o.setOnline(false)
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Request: req, Err: err}
}

func (o *Orchestrator) setOnline(online bool) {
	if o.online.Swap(online) == online {
		return
	}
	if online {
		o.logger.Info("origin reachable, back online")
	} else {
		o.logger.Warn("origin unreachable, going offline")
	}
}

// storeInto hands resp to each tier. Storage failures are logged; only
// programming errors are returned.
func (o *Orchestrator) storeInto(ctx context.Context, tiers []tier.Tier, resp *protocol.Response) error {
	for _, t := range tiers {
		err := t.Store(ctx, resp)
		if err == nil {
			continue
		}
		if errors.Is(err, tier.ErrTypeMismatch) || errors.Is(err, tier.ErrInvalidIdentifier) {
			return fmt.Errorf("store %s in %s: %w", resp.Request, t.Name(), err)
		}
		o.logger.Warn("tier store failed", "tier", t.Name(), "request", resp.Request.String(), "error", err)
	}
	return nil
}
