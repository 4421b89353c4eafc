package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/engine"
	"github.com/roach88/layercache/internal/fsutil"
	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/journal"
	"github.com/roach88/layercache/internal/tier"
	"github.com/roach88/layercache/internal/tier/filetier"
	"github.com/roach88/layercache/internal/tier/sqltier"
)

// Runtime is the set of components a Config describes, opened and wired.
type Runtime struct {
	Config  *Config
	Holds   *hold.Registry
	Journal *journal.Journal
	Tiers   []tier.Tier

	closers []func() error
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	clock  clock.Source
	retry  fsutil.RetryPolicy
	logger *slog.Logger
}

// WithClock sets the clock the journal names entries with. Defaults to wall time.
func WithClock(src clock.Source) BuildOption {
	return func(o *buildOptions) { o.clock = src }
}

// WithRetry sets the file retry policy shared by the on-disk components.
func WithRetry(p fsutil.RetryPolicy) BuildOption {
	return func(o *buildOptions) { o.retry = p }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = l }
}

// Build opens the hold registry, the journal and every tier under cfg.Root.
// On failure, anything already opened is closed again.
func Build(cfg *Config, opts ...BuildOption) (*Runtime, error) {
	o := buildOptions{clock: clock.Wall{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", cfg.Root, err)
	}

	holds, err := hold.Open(cfg.Root, o.retry)
	if err != nil {
		return nil, fmt.Errorf("open holds: %w", err)
	}
	jrnl, err := journal.Open(cfg.Root, o.clock, journal.WithRetry(o.retry), journal.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	rt := &Runtime{Config: cfg, Holds: holds, Journal: jrnl}
	names := cfg.TierNames()
	for i, tc := range cfg.Tiers {
		t, err := rt.openTier(tc, names[i], cfg.TierLocation(i), o)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open tier %s: %w", names[i], err)
		}
		rt.Tiers = append(rt.Tiers, t)
	}
	return rt, nil
}

func (rt *Runtime) openTier(tc TierConfig, name, location string, o buildOptions) (tier.Tier, error) {
	switch tc.Kind {
	case KindMemory:
		ttl, err := tc.Duration()
		if err != nil {
			return nil, err
		}
		return tier.NewMemory(name, rt.Holds, ttl), nil
	case KindFile:
		return filetier.Open(location, rt.Holds,
			filetier.WithName(name), filetier.WithRetry(o.retry), filetier.WithLogger(o.logger))
	case KindSQLite:
		if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
			return nil, err
		}
		t, err := sqltier.Open(location, rt.Holds, sqltier.WithName(name), sqltier.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, t.Close)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown tier kind %q", tc.Kind)
	}
}

// Orchestrator builds an orchestrator over the runtime's components.
func (rt *Runtime) Orchestrator(origin engine.Origin, opts ...engine.Option) *engine.Orchestrator {
	base := []engine.Option{
		engine.WithTiers(rt.Tiers...),
		engine.WithHolds(rt.Holds),
		engine.WithJournal(rt.Journal),
		engine.WithConcurrency(rt.Config.Concurrency),
	}
	if len(rt.Config.Types) > 0 {
		base = append(base, engine.WithSchema(rt.Config.Schema()))
	}
	return engine.New(origin, append(base, opts...)...)
}

// Close releases every tier that holds open resources.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
