package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/config"
	"github.com/roach88/layercache/internal/engine"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// openRuntime loads the configuration and opens everything under its root.
// Failures are reported through f.
func openRuntime(opts *RootOptions, f *OutputFormatter) (*config.Runtime, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	f.VerboseLog("Loaded %s (root %s, %d tiers)", opts.Config, cfg.Root, len(cfg.Tiers))

	rt, err := config.Build(cfg)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeOpen, "failed to open cache root", err)
	}
	return rt, nil
}

func closeRuntime(rt *config.Runtime) {
	if err := rt.Close(); err != nil {
		slog.Error("error closing cache root", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// localOrigin is an origin that is never reachable. Reads through it are
// answered by the tiers alone, falling back to stale entries.
type localOrigin struct {
	schema *ir.Schema
	clock  clock.Source
}

func newLocalOrigin(schema *ir.Schema, src clock.Source) *localOrigin {
	return &localOrigin{schema: schema, clock: src}
}

func (o *localOrigin) Process(ctx context.Context, req *protocol.Request, online bool) (*protocol.Response, error) {
	return nil, &engine.NetworkError{Request: req, Err: engine.ErrNoNetwork}
}

func (o *localOrigin) CurrentTimeMs() int64 {
	return o.clock.NowMs()
}

func (o *localOrigin) EnsureAuthenticated(ctx context.Context, typeName string) error {
	return nil
}

// ResolveType accepts any type when the configuration declares none.
func (o *localOrigin) ResolveType(name string) (ir.TypeDescriptor, error) {
	if len(o.schema.Names()) == 0 {
		return ir.TypeDescriptor{Name: name}, nil
	}
	return o.schema.Lookup(name)
}

func (o *localOrigin) NewIdentifier() string {
	return engine.UUIDv7Generator{}.Generate()
}

func (o *localOrigin) ListTypes() []ir.TypeDescriptor {
	var out []ir.TypeDescriptor
	for _, n := range o.schema.Names() {
		if d, err := o.schema.Lookup(n); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// readFailure maps an orchestrator read error onto CLI output.
func readFailure(f *OutputFormatter, req *protocol.Request, err error) error {
	switch {
	case engine.IsDataNotAvailableOffline(err):
		return f.Fail(ExitFailure, ErrCodeNotCached, fmt.Sprintf("%s is not cached", req), err)
	case errors.Is(err, ir.ErrUnknownType), errors.Is(err, protocol.ErrInvalidRequest):
		return f.Fail(ExitCommandError, ErrCodeBadRequest, err.Error(), nil)
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("%s failed", req), err)
	}
}
