package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/layercache/internal/ir"
)

// DefaultStartMs is the clock value a scenario starts at unless start_ms is set.
const DefaultStartMs = 1_700_000_000_000

// Scenario defines an offline-sync test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// StartMs is the initial clock value.
	StartMs int64 `yaml:"start_ms,omitempty"`

	// Tiers is the number of memory tiers in front of the origin. Defaults to 2.
	Tiers int `yaml:"tiers,omitempty"`

	// Concurrency bounds identifier resolution. Defaults to the engine default.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Types declares the record types. Empty means the origin resolves any type.
	Types []ir.TypeDescriptor `yaml:"types,omitempty"`

	// Origin seeds the origin before the first step.
	Origin []OriginSeed `yaml:"origin,omitempty"`

	// Steps is the scripted sequence of operations.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// OriginSeed lists records and collections of one type held by the origin.
type OriginSeed struct {
	Type        string              `yaml:"type"`
	Records     []map[string]any    `yaml:"records,omitempty"`
	Collections map[string][]string `yaml:"collections,omitempty"`
}

// Step is one scripted operation.
type Step struct {
	// Op names the operation (see the Op constants).
	Op string `yaml:"op"`

	Type string `yaml:"type,omitempty"`
	ID   string `yaml:"id,omitempty"`

	// Name and Criteria derive a query's collection key; Key addresses a
	// collection directly.
	Name     string         `yaml:"name,omitempty"`
	Criteria map[string]any `yaml:"criteria,omitempty"`
	Key      string         `yaml:"key,omitempty"`

	// Value is the record for create, replace and origin_put, and the
	// changed fields for update.
	Value map[string]any `yaml:"value,omitempty"`

	// Freshness in seconds for reads. Nil accepts any age.
	Freshness *int     `yaml:"freshness,omitempty"`
	Populate  []string `yaml:"populate,omitempty"`

	// Duration for advance, as a Go duration string. For clear it evicts
	// only entries older than the duration.
	Duration string `yaml:"duration,omitempty"`

	// Enqueue journals a write that failed because the origin was unreachable.
	Enqueue bool `yaml:"enqueue,omitempty"`

	// ExceptHeld and RecordType select what clear evicts.
	ExceptHeld bool   `yaml:"except_held,omitempty"`
	RecordType string `yaml:"record_type,omitempty"`

	// Expect validates the step's outcome. A step error fails the scenario
	// unless Expect.Error names it.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies a step's expected outcome.
type Expect struct {
	Exists    *bool `yaml:"exists,omitempty"`
	Connected *bool `yaml:"connected,omitempty"`

	// Record is a subset match against the materialized record.
	Record map[string]any `yaml:"record,omitempty"`

	// IDs is the exact collection identifier list.
	IDs []string `yaml:"ids,omitempty"`

	// Error is the expected offline error code, or "error" for any failure.
	Error string `yaml:"error,omitempty"`
}

// Step operations.
const (
	OpGet          = "get"
	OpQuery        = "query"
	OpCreate       = "create"
	OpUpdate       = "update"
	OpReplace      = "replace"
	OpDestroy      = "destroy"
	OpAdvance      = "advance"
	OpOnline       = "online"
	OpOffline      = "offline"
	OpOriginPut    = "origin_put"
	OpOriginDelete = "origin_delete"
	OpHold         = "hold"
	OpUnhold       = "unhold"
	OpClear        = "clear"
)

var readOps = []string{OpGet, OpQuery}
var writeOps = []string{OpCreate, OpUpdate, OpReplace, OpDestroy}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "origin_calls": count origin requests with Verb
	// - "tier_contains": Tier holds RecordType/ID, subset-matching Expect
	// - "tier_missing": Tier does not hold RecordType/ID
	// - "journal_count": the journal holds Count entries
	Type string `yaml:"type"`

	Verb       string         `yaml:"verb,omitempty"`
	Count      int            `yaml:"count,omitempty"`
	Tier       int            `yaml:"tier,omitempty"`
	RecordType string         `yaml:"record_type,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertOriginCalls  = "origin_calls"
	AssertTierContains = "tier_contains"
	AssertTierMissing  = "tier_missing"
	AssertJournalCount = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Tiers < 0 {
		return fmt.Errorf("tiers must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, seed := range s.Origin {
		if seed.Type == "" {
			return fmt.Errorf("origin[%d]: type is required", i)
		}
		for j, rec := range seed.Records {
			if _, ok := rec[ir.IDField]; !ok {
				return fmt.Errorf("origin[%d].records[%d]: id is required", i, j)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s.tierCount()); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its operation.
func validateStep(index int, st *Step) error {
	needType := func() error {
		if st.Type == "" {
			return fmt.Errorf("steps[%d]: type is required for %s", index, st.Op)
		}
		return nil
	}
	needID := func() error {
		if err := needType(); err != nil {
			return err
		}
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", index, st.Op)
		}
		return nil
	}

	if st.Expect != nil && !slices.Contains(readOps, st.Op) && !slices.Contains(writeOps, st.Op) {
		return fmt.Errorf("steps[%d]: expect is only supported for reads and writes", index)
	}
	if st.Enqueue && !slices.Contains(writeOps, st.Op) {
		return fmt.Errorf("steps[%d]: enqueue is only supported for writes", index)
	}

	switch st.Op {
	case OpGet, OpDestroy, OpOriginDelete:
		return needID()
	case OpHold, OpUnhold:
		if err := needType(); err != nil {
			return err
		}
		if (st.ID == "") == (st.Key == "") {
			return fmt.Errorf("steps[%d]: exactly one of id or key is required for %s", index, st.Op)
		}
	case OpQuery:
		if err := needType(); err != nil {
			return err
		}
		if st.Name == "" && st.Key == "" {
			return fmt.Errorf("steps[%d]: name or key is required for query", index)
		}
	case OpCreate, OpReplace, OpOriginPut:
		if err := needType(); err != nil {
			return err
		}
		if st.Value == nil {
			return fmt.Errorf("steps[%d]: value is required for %s", index, st.Op)
		}
	case OpUpdate:
		if err := needID(); err != nil {
			return err
		}
		if len(st.Value) == 0 {
			return fmt.Errorf("steps[%d]: value is required for update", index)
		}
	case OpAdvance:
		return validateDuration(index, st.Duration)
	case OpClear:
		if st.Duration != "" {
			return validateDuration(index, st.Duration)
		}
	case OpOnline, OpOffline:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

func validateDuration(index int, s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("steps[%d]: invalid duration %q: %w", index, s, err)
	}
	if d < 0 {
		return fmt.Errorf("steps[%d]: duration must be non-negative", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, tiers int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOriginCalls:
		if a.Verb == "" {
			return fmt.Errorf("assertions[%d]: verb is required for origin_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for origin_calls", index)
		}
	case AssertTierContains, AssertTierMissing:
		if a.RecordType == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: record_type and id are required for %s", index, a.Type)
		}
		if a.Tier < 0 || a.Tier >= tiers {
			return fmt.Errorf("assertions[%d]: tier %d out of range (scenario has %d)", index, a.Tier, tiers)
		}
	case AssertJournalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (s *Scenario) tierCount() int {
	if s.Tiers == 0 {
		return 2
	}
	return s.Tiers
}

func (s *Scenario) startMs() int64 {
	if s.StartMs == 0 {
		return DefaultStartMs
	}
	return s.StartMs
}
