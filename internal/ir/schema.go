package ir

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownType is returned when a request names a type the schema does not declare.
var ErrUnknownType = errors.New("unknown record type")

// AssociationKind distinguishes the two association variants.
type AssociationKind string

const (
	// ToOne resolves a single record through a foreign-key field on the owner.
	ToOne AssociationKind = "to_one"

	// ToMany resolves every target record whose foreign key equals the owner's id.
	ToMany AssociationKind = "to_many"
)

// Association declares one relation of a record type.
//
// For ToOne, ForeignKey names the field on the owning record holding the
// target id. For ToMany, ForeignKey names the field on the target records
// that holds the owner id.
type Association struct {
	Name       string          `json:"name" yaml:"name"`
	Kind       AssociationKind `json:"kind" yaml:"kind"`
	Target     string          `json:"target" yaml:"target"`
	ForeignKey string          `json:"foreign_key" yaml:"foreign_key"`
}

// TypeDescriptor is the static declaration of one record type.
type TypeDescriptor struct {
	Name         string        `json:"name" yaml:"name"`
	Associations []Association `json:"associations,omitempty" yaml:"associations,omitempty"`
}

// Association looks up a declared association by name.
func (d TypeDescriptor) Association(name string) (Association, bool) {
	for _, a := range d.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

// Validate checks the descriptor and returns every problem found.
func (d TypeDescriptor) Validate() []error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("type name is required"))
	}
	seen := make(map[string]bool, len(d.Associations))
	for i, a := range d.Associations {
		field := fmt.Sprintf("%s.associations[%d]", d.Name, i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", field))
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate association %q", field, a.Name))
		}
		seen[a.Name] = true
		if a.Kind != ToOne && a.Kind != ToMany {
			errs = append(errs, fmt.Errorf("%s: kind must be %q or %q, got %q", field, ToOne, ToMany, a.Kind))
		}
		if a.Target == "" {
			errs = append(errs, fmt.Errorf("%s: target is required", field))
		}
		if a.ForeignKey == "" {
			errs = append(errs, fmt.Errorf("%s: foreign_key is required", field))
		}
	}
	return errs
}

// Schema is a set of type descriptors keyed by name. Safe for concurrent reads
// after construction; Register may be called concurrently as well.
type Schema struct {
	mu    sync.RWMutex
	types map[string]TypeDescriptor
}

// NewSchema builds a schema from descriptors. Later duplicates replace earlier ones.
func NewSchema(descs ...TypeDescriptor) *Schema {
	s := &Schema{types: make(map[string]TypeDescriptor, len(descs))}
	for _, d := range descs {
		s.types[d.Name] = d
	}
	return s
}

// Register adds or replaces a descriptor.
func (s *Schema) Register(d TypeDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[d.Name] = d
}

// Lookup returns the descriptor for name or ErrUnknownType.
func (s *Schema) Lookup(name string) (TypeDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.types[name]
	if !ok {
		return TypeDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return d, nil
}

// Names returns the declared type names in sorted order.
func (s *Schema) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedTypeNames(s.types)
}

// Validate checks every descriptor, including that association targets are declared.
func (s *Schema) Validate() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var errs []error
	for _, name := range sortedTypeNames(s.types) {
		d := s.types[name]
		errs = append(errs, d.Validate()...)
		for _, a := range d.Associations {
			if _, ok := s.types[a.Target]; a.Target != "" && !ok {
				errs = append(errs, fmt.Errorf("%s.%s: target %w: %q", d.Name, a.Name, ErrUnknownType, a.Target))
			}
		}
	}
	return errs
}

func sortedTypeNames(m map[string]TypeDescriptor) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
