// Package config loads the layercache configuration file.
//
// A configuration is YAML on disk. It is decoded into a generic map, unified
// with the embedded CUE schema (which fills in defaults and rejects unknown
// or out-of-range fields), and decoded into Config. Checks the schema cannot
// express, such as duration syntax and association targets, run in Validate.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/layercache/internal/hold"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/journal"
)

//go:embed schema.cue
var schemaSource string

// Tier kinds.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Defaults applied by the schema when a field is omitted.
const (
	DefaultConcurrency = 10
	DefaultFreshness   = 300
	DefaultSQLitePath  = "cache.db"
)

// Error codes.
const (
	ErrCodeRead    = "E201" // File could not be read
	ErrCodeParse   = "E202" // Not valid YAML
	ErrCodeSchema  = "E203" // Rejected by the schema
	ErrCodeInvalid = "E204" // Failed semantic validation
)

// Error describes one configuration problem.
type Error struct {
	Code    string
	Field   string // dotted path, empty for file-level problems
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TierConfig declares one cache tier.
type TierConfig struct {
	Kind string `json:"kind" yaml:"kind"`

	// Name overrides the tier name used in logs. Defaults to Kind, with a
	// numeric suffix when the same kind appears more than once.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// TTL is a Go duration string. Only memory tiers honor it.
	TTL string `json:"ttl,omitempty" yaml:"ttl,omitempty"`

	// Path locates the tier on disk, relative to Root. For a sqlite tier it
	// names the database file (default cache.db); for a file tier, the
	// directory (default Root itself).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Duration parses TTL. An empty TTL is zero, meaning no expiration.
func (t TierConfig) Duration() (time.Duration, error) {
	if t.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(t.TTL)
}

// Config is a decoded, defaulted configuration.
type Config struct {
	Root             string              `json:"root" yaml:"root"`
	Concurrency      int                 `json:"concurrency" yaml:"concurrency"`
	DefaultFreshness int                 `json:"default_freshness" yaml:"default_freshness"`
	Tiers            []TierConfig        `json:"tiers" yaml:"tiers"`
	Types            []ir.TypeDescriptor `json:"types" yaml:"types"`
}

// Load reads and parses the file at path. A relative Root is resolved
// against the directory holding the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeRead, Message: fmt.Sprintf("reading %s", path), Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies the schema and validates the result.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Code: ErrCodeParse, Message: "invalid YAML", Err: err}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, schemaError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// schemaError reports the first CUE error with its field path.
func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: ErrCodeSchema, Message: err.Error(), Err: err}
	}
	first := errs[0]
	format, args := first.Msg()
	return &Error{
		Code:    ErrCodeSchema,
		Field:   strings.Join(cueerrors.Path(first), "."),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Validate checks what the schema cannot and returns every problem joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, &Error{Code: ErrCodeInvalid, Field: "root", Message: "root is required"})
	}
	if c.Concurrency < 1 || c.Concurrency > 100 {
		errs = append(errs, &Error{Code: ErrCodeInvalid, Field: "concurrency",
			Message: fmt.Sprintf("must be between 1 and 100, got %d", c.Concurrency)})
	}

	names := make(map[string]bool, len(c.Tiers))
	for i, t := range c.TierNames() {
		field := fmt.Sprintf("tiers.%d", i)
		if names[t] {
			errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field + ".name",
				Message: fmt.Sprintf("duplicate tier name %q", t)})
		}
		names[t] = true
	}
	for i, t := range c.Tiers {
		field := fmt.Sprintf("tiers.%d", i)
		switch t.Kind {
		case KindMemory, KindFile, KindSQLite:
		default:
			errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field + ".kind",
				Message: fmt.Sprintf("unknown tier kind %q", t.Kind)})
		}
		if _, err := t.Duration(); err != nil {
			errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field + ".ttl", Message: err.Error(), Err: err})
		} else if t.TTL != "" && t.Kind != KindMemory {
			errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field + ".ttl",
				Message: fmt.Sprintf("ttl is only supported by %s tiers", KindMemory)})
		}
		if t.Path != "" && t.Kind == KindMemory {
			errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field + ".path",
				Message: fmt.Sprintf("path is not supported by %s tiers", KindMemory)})
		}
	}
	errs = append(errs, c.validateLocations()...)

	for _, err := range c.Schema().Validate() {
		errs = append(errs, &Error{Code: ErrCodeInvalid, Field: "types", Message: err.Error(), Err: err})
	}
	return errors.Join(errs...)
}

// TierLocation returns where tier i lives on disk: a directory for file
// tiers, a database file for sqlite tiers, and "" for memory tiers.
func (c *Config) TierLocation(i int) string {
	t := c.Tiers[i]
	path := t.Path
	switch t.Kind {
	case KindFile:
		if path == "" {
			path = "."
		}
	case KindSQLite:
		if path == "" {
			path = DefaultSQLitePath
		}
	default:
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Root, path)
}

// validateLocations rejects tiers that would share storage. File tiers
// discover types from their directory, so one may not sit inside another,
// and none may sit inside the hold or journal directories.
func (c *Config) validateLocations() []error {
	var errs []error
	reserved := []string{filepath.Join(c.Root, hold.DirName), filepath.Join(c.Root, journal.DirName)}
	owner := make(map[string]int, len(c.Tiers))
	var fileDirs []int

	for i, t := range c.Tiers {
		loc := c.TierLocation(i)
		if loc == "" {
			continue
		}
		field := fmt.Sprintf("tiers.%d.path", i)
		if j, ok := owner[loc]; ok {
			errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field,
				Message: fmt.Sprintf("location %s is already used by tiers.%d", loc, j)})
			continue
		}
		owner[loc] = i

		for _, r := range reserved {
			if within(loc, r) {
				errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field,
					Message: fmt.Sprintf("location %s is reserved for %s", loc, filepath.Base(r))})
			}
		}
		if t.Kind != KindFile {
			continue
		}
		for _, j := range fileDirs {
			other := c.TierLocation(j)
			if within(loc, other) || within(other, loc) {
				errs = append(errs, &Error{Code: ErrCodeInvalid, Field: field,
					Message: fmt.Sprintf("location %s overlaps tiers.%d at %s", loc, j, other)})
			}
		}
		fileDirs = append(fileDirs, i)
	}
	return errs
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// TierNames returns the effective name of each tier in order.
func (c *Config) TierNames() []string {
	counts := make(map[string]int, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Name == "" {
			counts[t.Kind]++
		}
	}
	seen := make(map[string]int, len(c.Tiers))
	names := make([]string, len(c.Tiers))
	for i, t := range c.Tiers {
		switch {
		case t.Name != "":
			names[i] = t.Name
		case counts[t.Kind] > 1:
			seen[t.Kind]++
			names[i] = fmt.Sprintf("%s-%d", t.Kind, seen[t.Kind])
		default:
			names[i] = t.Kind
		}
	}
	return names
}

// Schema builds the record schema the configuration declares.
func (c *Config) Schema() *ir.Schema {
	return ir.NewSchema(c.Types...)
}
