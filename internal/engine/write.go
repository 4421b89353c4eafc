package engine

import (
	"context"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// write runs the Create/Update/Replace/Destroy path: origin first, then
// every tier front to back.
func (o *Orchestrator) write(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := o.callOrigin(ctx, req)
	if err != nil {
		if IsNetworkError(err) {
			return nil, newOfflineError(ErrCodeOperationNotAvailableOffline, req, err)
		}
		return nil, err
	}

	// Tiers persist Base only, so fold any overrides the origin echoed back.
	if resp.Exists && len(resp.Record.Overrides) > 0 {
		resp.Record = ir.NewRecord(resp.Record.Materialize())
	}

	if err := o.storeInto(ctx, o.tiers, resp); err != nil {
		return nil, err
	}
	o.logger.Debug("write applied", "request", req.String(), "tiers", len(o.tiers))
	return resp, nil
}

// blob forwards binary verbs to the origin. Tiers never hold blobs.
func (o *Orchestrator) blob(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := o.callOrigin(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !IsNetworkError(err) {
		return nil, err
	}
	code := ErrCodeOperationNotAvailableOffline
	if req.Verb.IsRead() {
		code = ErrCodeDataNotAvailableOffline
	}
	return nil, newOfflineError(code, req, err)
}
