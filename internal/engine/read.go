package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// read runs the Get/Query path.
func (o *Orchestrator) read(ctx context.Context, req *protocol.Request, desc ir.TypeDescriptor) (*protocol.Response, error) {
	var (
		final     *protocol.Response
		source    = len(o.tiers)
		stale     *protocol.Response
		staleTier int
	)

	// Reject-stale reads cannot use any cached value, fresh or not.
	if !req.RejectsStale() {
		for i, t := range o.tiers {
			resp, err := t.Fetch(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s from %s: %w", req, t.Name(), err)
			}
			if resp.IsFresh() {
				final, source = resp, i
				break
			}
			if resp.Exists && (stale == nil || resp.ArrivedAtMs > stale.ArrivedAtMs) {
				stale, staleTier = resp, i
			}
		}
	}

	if final != nil {
		final = final.WithRequest(req)
		final.Connected = o.Online()
	} else {
		resp, err := o.callOrigin(ctx, req)
		switch {
		case err == nil:
			final = resp
		case !IsNetworkError(err):
			return nil, err
		case req.RejectsStale() || stale == nil:
			return nil, newOfflineError(ErrCodeDataNotAvailableOffline, req, err)
		default:
			o.logger.Info("serving cached data offline",
				"request", req.String(), "age_ms", stale.AgeMs())
			final = stale.WithRequest(req)
			final.Connected = false
			source = staleTier
		}
	}

	// writeBack is what nearer tiers receive. Records resolved through
	// nested Gets were already written back on their own, and populated
	// associations only live on the copy returned to the caller.
	writeBack := final
	if req.Verb == protocol.VerbQuery && final.HasIDs() {
		records, err := o.resolveIDs(ctx, req, final.IDs)
		if err != nil {
			return nil, err
		}
		final = final.WithRequest(req)
		final.Records = records
	}

	if len(req.Populate) > 0 && final.Exists {
		final = final.WithRequest(req)
		if err := o.populate(ctx, req, desc, final); err != nil {
			return nil, err
		}
	}

	if err := o.storeInto(ctx, o.tiers[:source], writeBack); err != nil {
		return nil, err
	}
	return final, nil
}

// resolveIDs issues one Get per identifier with bounded parallelism and
// returns the records in identifier order. Identifiers that resolve to
// nothing are omitted.
func (o *Orchestrator) resolveIDs(ctx context.Context, req *protocol.Request, ids []string) ([]ir.Record, error) {
	results := make([]*protocol.Response, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			resp, err := o.process(gctx, protocol.NewGet(req.Type, id, req.FreshnessSeconds, req.TimeMs))
			if err != nil {
				return fmt.Errorf("resolve %s/%s: %w", req.Type, id, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]ir.Record, 0, len(ids))
	for _, resp := range results {
		if resp.Exists {
			records = append(records, resp.Record)
		}
	}
	return records, nil
}

// populate resolves each requested association and attaches it to the
// response's record(s) as an override. Base snapshots are never touched.
func (o *Orchestrator) populate(ctx context.Context, req *protocol.Request, desc ir.TypeDescriptor, resp *protocol.Response) error {
	assocs := make([]ir.Association, 0, len(req.Populate))
	for _, name := range req.Populate {
		a, ok := desc.Association(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownAssociation, desc.Name, name)
		}
		assocs = append(assocs, a)
	}

	attach := func(rec ir.Record) (ir.Record, error) {
		for _, a := range assocs {
			v, err := o.resolveAssociation(ctx, req, a, rec)
			if err != nil {
				return ir.Record{}, err
			}
			rec = rec.With(a.Name, v)
		}
		return rec, nil
	}

	if resp.Records != nil {
		populated := make([]ir.Record, len(resp.Records))
		for i, rec := range resp.Records {
			p, err := attach(rec)
			if err != nil {
				return err
			}
			populated[i] = p
		}
		resp.Records = populated
		return nil
	}
	if resp.Record.IsZero() {
		return nil
	}
	rec, err := attach(resp.Record)
	if err != nil {
		return err
	}
	resp.Record = rec
	return nil
}

// resolveAssociation issues the nested request for one association.
//
// To-one follows the foreign key stored on the owner and yields the target
// object or Null. To-many queries the foreign-key collection of targets
// pointing at the owner and yields an array of objects.
func (o *Orchestrator) resolveAssociation(ctx context.Context, req *protocol.Request, a ir.Association, owner ir.Record) (ir.Value, error) {
	switch a.Kind {
	case ir.ToOne:
		fk, ok := owner.Get(a.ForeignKey)
		if !ok {
			return ir.Null{}, nil
		}
		id, ok := ir.Scalar(fk)
		if !ok || id == "" {
			return ir.Null{}, nil
		}
		resp, err := o.process(ctx, protocol.NewGet(a.Target, id, req.FreshnessSeconds, req.TimeMs))
		if err != nil {
			return nil, fmt.Errorf("populate %s.%s: %w", req.Type, a.Name, err)
		}
		if !resp.Exists || resp.Record.IsZero() {
			return ir.Null{}, nil
		}
		return resp.Record.Materialize(), nil

	case ir.ToMany:
		ownerID, ok := owner.Get(ir.IDField)
		if !ok {
			return ir.Array{}, nil
		}
		key := ir.ForeignKeyCollectionKey(a.Target, a.ForeignKey, owner.ID())
		criteria := ir.Object{a.ForeignKey: ownerID}
		resp, err := o.process(ctx, protocol.NewCollection(a.Target, key, criteria, req.FreshnessSeconds, req.TimeMs))
		if err != nil {
			return nil, fmt.Errorf("populate %s.%s: %w", req.Type, a.Name, err)
		}
		out := ir.Array{}
		if resp.Exists {
			for _, rec := range resp.Records {
				out = append(out, rec.Materialize())
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s.%s has kind %q", ErrUnknownAssociation, req.Type, a.Name, a.Kind)
	}
}
