package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// AnyError matches every step failure in Expect.Error.
const AnyError = "error"

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// checkExpect compares one step's trace event with its expectation.
func checkExpect(index int, st *Step, ev *TraceEvent) []string {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("steps[%d] %s: ", index, st.Op)+fmt.Sprintf(format, args...))
	}

	exp := st.Expect
	if exp == nil {
		if ev.Error != "" {
			fail("unexpected error: %s", ev.Error)
		}
		return errs
	}

	switch {
	case exp.Error == "" && ev.Error != "":
		fail("unexpected error: %s", ev.Error)
		return errs
	case exp.Error == AnyError && ev.Error == "":
		fail("expected an error, got none")
		return errs
	case exp.Error != "" && exp.Error != AnyError && exp.Error != ev.Error:
		fail("expected error %s, got %q", exp.Error, ev.Error)
		return errs
	case exp.Error != "":
		return errs
	}

	if exp.Exists != nil && *exp.Exists != ev.Exists {
		fail("expected exists=%t, got %t", *exp.Exists, ev.Exists)
	}
	if exp.Connected != nil && *exp.Connected != ev.Connected {
		fail("expected connected=%t, got %t", *exp.Connected, ev.Connected)
	}
	if exp.IDs != nil && !slices.Equal(exp.IDs, ev.IDs) {
		fail("expected ids %v, got %v", exp.IDs, ev.IDs)
	}
	if exp.Record != nil {
		got := make(ir.Object, len(ev.Record))
		for k, v := range ev.Record {
			if val, ok := v.(ir.Value); ok {
				got[k] = val
			}
		}
		if msg := matchSubset(exp.Record, got); msg != "" {
			fail("record mismatch: %s", msg)
		}
	}
	return errs
}

// evaluateAssertions checks the final state and returns a message per
// failed assertion.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertOriginCalls:
		got := h.origin.CallCount(protocol.Verb(a.Verb))
		if got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d %s call(s)", a.Count, a.Verb),
				Actual:   fmt.Sprintf("%d %s call(s)", got, a.Verb),
			}
		}

	case AssertTierContains, AssertTierMissing:
		t := h.tiers[a.Tier]
		resp, err := t.Fetch(ctx, protocol.NewGet(a.RecordType, a.ID, protocol.FreshnessAny, h.clock.NowMs()))
		if err != nil {
			return fmt.Errorf("fetch from %s: %w", t.Name(), err)
		}
		if a.Type == AssertTierMissing {
			if resp.Exists {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("%s/%s absent from %s", a.RecordType, a.ID, t.Name()),
					Actual:   "present",
				}
			}
			return nil
		}
		if !resp.Exists {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s/%s in %s", a.RecordType, a.ID, t.Name()),
				Actual:   "absent",
			}
		}
		if msg := matchSubset(a.Expect, resp.Record.Materialize()); msg != "" {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s/%s in %s matching %v", a.RecordType, a.ID, t.Name(), a.Expect),
				Actual:   msg,
			}
		}

	case AssertJournalCount:
		n, err := h.journal.Len()
		if err != nil {
			return err
		}
		if n != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d journal entries", a.Count),
				Actual:   fmt.Sprintf("%d journal entries", n),
			}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// matchSubset reports the first field of want that got lacks or holds a
// different value for. An empty string means every field matched.
func matchSubset(want map[string]any, got ir.Object) string {
	for _, field := range sortedFields(want) {
		wv, err := ir.FromAny(want[field])
		if err != nil {
			return fmt.Sprintf("%s: %v", field, err)
		}
		gv, ok := got[field]
		if !ok {
			return fmt.Sprintf("%s: missing", field)
		}
		wb, werr := ir.MarshalCanonical(wv)
		gb, gerr := ir.MarshalCanonical(gv)
		if werr != nil || gerr != nil || string(wb) != string(gb) {
			return fmt.Sprintf("%s: expected %s, got %s", field, wb, gb)
		}
	}
	return ""
}

func sortedFields(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
