package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/engine"
	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/journal"
	"github.com/roach88/layercache/internal/protocol"
	"github.com/roach88/layercache/internal/testutil"
	"github.com/roach88/layercache/internal/tier"
)

// Harness drives one scenario against a fresh orchestrator.
type Harness struct {
	clock   *clock.Manual
	origin  *testutil.FakeOrigin
	tiers   []tier.Tier
	holds   *hold.Registry
	journal *journal.Journal
	orch    *engine.Orchestrator
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against fresh memory tiers and a temporary journal
// directory that is removed afterwards.
//
// Execution flow:
// 1. Seed the origin
// 2. Execute steps, validating each expect clause
// 3. Evaluate assertions against the final state
//
// The returned error reports harness failures (unusable seed data, an
// unwritable journal). Expectation mismatches land in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "layercache-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(scenario, dir)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(ctx, i, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, scenario.Steps[i].Op, err)
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, dir string) (*Harness, error) {
	h := &Harness{
		clock:  clock.NewManual(scenario.startMs()),
		holds:  hold.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.origin = testutil.NewFakeOrigin(h.clock, scenario.Types...)
	h.origin.WithIdentifiers(engine.NewFixedGenerator(generatedIDs(scenario)...))

	for i, seed := range scenario.Origin {
		for j, raw := range seed.Records {
			rec, err := toObject(raw)
			if err != nil {
				return nil, fmt.Errorf("origin[%d].records[%d]: %w", i, j, err)
			}
			h.origin.Put(seed.Type, rec)
		}
		for key, ids := range seed.Collections {
			h.origin.SetCollection(seed.Type, key, ids...)
		}
	}

	for i := range scenario.tierCount() {
		h.tiers = append(h.tiers, tier.NewMemory(fmt.Sprintf("memory-%d", i), h.holds, 0))
	}

	j, err := journal.Open(dir, h.clock, journal.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	h.journal = j

	opts := []engine.Option{
		engine.WithTiers(h.tiers...),
		engine.WithHolds(h.holds),
		engine.WithJournal(j),
		engine.WithLogger(h.logger),
	}
	if scenario.Concurrency > 0 {
		opts = append(opts, engine.WithConcurrency(scenario.Concurrency))
	}
	if len(scenario.Types) > 0 {
		opts = append(opts, engine.WithSchema(ir.NewSchema(scenario.Types...)))
	}
	h.orch = engine.New(anyType{h.origin}, opts...)
	return h, nil
}

// anyType lets scenarios without declared types address any type name.
type anyType struct {
	*testutil.FakeOrigin
}

func (a anyType) ResolveType(name string) (ir.TypeDescriptor, error) {
	if d, err := a.FakeOrigin.ResolveType(name); err == nil {
		return d, nil
	}
	return ir.TypeDescriptor{Name: name}, nil
}

// generatedIDs yields deterministic identifiers for creates that omit one.
func generatedIDs(scenario *Scenario) []string {
	var ids []string
	for i, st := range scenario.Steps {
		if st.Op == OpCreate && st.ID == "" {
			ids = append(ids, fmt.Sprintf("gen-%d", i))
		}
	}
	return ids
}

// executeStep runs one step, records its trace event and validates its
// expectation.
func (h *Harness) executeStep(ctx context.Context, index int, st *Step, result *Result) error {
	ev := TraceEvent{Step: index, Op: st.Op}

	var (
		req  *protocol.Request
		resp *protocol.Response
		err  error
	)

	switch st.Op {
	case OpGet:
		req = protocol.NewGet(st.Type, st.ID, st.freshness(), h.orch.Now(), st.Populate...)
	case OpQuery:
		criteria, cerr := toObject(st.Criteria)
		if cerr != nil {
			return cerr
		}
		if st.Key != "" {
			req = protocol.NewCollection(st.Type, st.Key, criteria, st.freshness(), h.orch.Now(), st.Populate...)
		} else if req, err = protocol.NewQuery(st.Type, st.Name, criteria, st.freshness(), h.orch.Now(), st.Populate...); err != nil {
			return err
		}
	case OpCreate, OpReplace, OpUpdate, OpDestroy:
		if req, err = h.writeRequest(st); err != nil {
			return err
		}
	case OpAdvance:
		d, _ := time.ParseDuration(st.Duration)
		h.clock.Advance(d)
	case OpOnline:
		h.origin.SetOnline(true)
	case OpOffline:
		h.origin.SetOnline(false)
	case OpOriginPut:
		rec, err := h.stepRecord(st)
		if err != nil {
			return err
		}
		h.origin.Put(st.Type, rec)
	case OpOriginDelete:
		h.origin.Delete(st.Type, st.ID)
	case OpHold:
		err = h.hold(st, true)
	case OpUnhold:
		err = h.hold(st, false)
	case OpClear:
		opts := tier.ClearOptions{ExceptHeld: st.ExceptHeld, Type: st.RecordType}
		if st.Duration != "" {
			d, _ := time.ParseDuration(st.Duration)
			opts.OlderThanMs = h.clock.NowMs() - d.Milliseconds()
		}
		err = h.orch.ClearAll(ctx, opts)
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	if err != nil {
		return err
	}

	if req != nil {
		ev.Request = req.String()
		resp, err = h.orch.Process(ctx, req)
		h.record(&ev, resp, err)
		if err != nil && st.Enqueue && engine.IsOperationNotAvailableOffline(err) {
			if _, qerr := h.orch.Enqueue(ctx, req); qerr != nil {
				return fmt.Errorf("enqueue: %w", qerr)
			}
			ev.Enqueued = true
		}
	}
	ev.ClockMs = h.clock.NowMs()
	result.AddTrace(ev)

	for _, msg := range checkExpect(index, st, &ev) {
		result.AddError(msg)
	}
	return nil
}

// writeRequest builds the request for a write step. Updates take their
// base snapshot from the origin so the change set is the step's value.
func (h *Harness) writeRequest(st *Step) (*protocol.Request, error) {
	now := h.orch.Now()
	switch st.Op {
	case OpCreate:
		rec, err := h.stepRecord(st)
		if err != nil {
			return nil, err
		}
		if rec[ir.IDField] == nil {
			rec[ir.IDField] = ir.String(h.origin.NewIdentifier())
		}
		return protocol.NewCreate(st.Type, rec, now), nil
	case OpReplace:
		rec, err := h.stepRecord(st)
		if err != nil {
			return nil, err
		}
		return protocol.NewReplace(st.Type, rec, now), nil
	case OpUpdate:
		changes, err := toObject(st.Value)
		if err != nil {
			return nil, err
		}
		base, ok := h.origin.Record(st.Type, st.ID)
		if !ok {
			base = ir.Object{ir.IDField: ir.String(st.ID)}
		}
		rec := ir.NewRecord(base)
		for _, field := range changes.SortedKeys() {
			rec = rec.With(field, changes[field])
		}
		return protocol.NewUpdate(st.Type, rec, now), nil
	default:
		return protocol.NewDestroy(st.Type, st.ID, now), nil
	}
}

// stepRecord converts the step value, taking the id from the step when set.
func (h *Harness) stepRecord(st *Step) (ir.Object, error) {
	rec, err := toObject(st.Value)
	if err != nil {
		return nil, err
	}
	if st.ID != "" {
		rec[ir.IDField] = ir.String(st.ID)
	}
	if st.Op == OpOriginPut && ir.NewRecord(rec).ID() == "" {
		return nil, errors.New("origin_put: id is required")
	}
	return rec, nil
}

func (h *Harness) hold(st *Step, held bool) error {
	switch {
	case st.Key != "" && held:
		return h.holds.HoldKey(st.Type, st.Key)
	case st.Key != "":
		return h.holds.UnholdKey(st.Type, st.Key)
	case held:
		return h.holds.Hold(st.Type, st.ID)
	default:
		return h.holds.Unhold(st.Type, st.ID)
	}
}

// record copies the observable parts of a response into ev.
func (h *Harness) record(ev *TraceEvent, resp *protocol.Response, err error) {
	if err != nil {
		var offline *engine.OfflineError
		if errors.As(err, &offline) {
			ev.Error = string(offline.Code)
		} else {
			ev.Error = err.Error()
		}
		return
	}
	ev.Exists = resp.Exists
	ev.Connected = resp.Connected
	if !resp.Exists {
		return
	}
	if resp.Request.Verb == protocol.VerbQuery {
		ev.IDs = append([]string{}, resp.IDs...)
		return
	}
	ev.Record = map[string]any{}
	for k, v := range resp.Record.Materialize() {
		ev.Record[k] = v
	}
}

func (st *Step) freshness() int {
	if st.Freshness == nil {
		return protocol.FreshnessAny
	}
	return *st.Freshness
}

// toObject converts YAML-decoded values into a record object.
func toObject(raw map[string]any) (ir.Object, error) {
	if raw == nil {
		return ir.Object{}, nil
	}
	v, err := ir.FromAny(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}
