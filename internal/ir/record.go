package ir

// IDField is the field every record carries its identifier in.
const IDField = "id"

// Record is a two-tier record value: an immutable base snapshot plus an
// optional sparse override map. Reads consult Overrides before Base.
//
// Caches persist Base only. Overrides carry pending edits (the new field
// values of an update) and transiently attached associations, so a
// populated record never leaks its resolved graph into storage.
type Record struct {
	Base      Object
	Overrides Object
}

// NewRecord wraps a snapshot without overrides.
func NewRecord(base Object) Record {
	return Record{Base: base}
}

// IsZero reports whether the record holds no fields at all.
func (r Record) IsZero() bool {
	return len(r.Base) == 0 && len(r.Overrides) == 0
}

// Get returns the value for field, preferring an override.
func (r Record) Get(field string) (Value, bool) {
	if v, ok := r.Overrides[field]; ok {
		return v, true
	}
	v, ok := r.Base[field]
	return v, ok
}

// ID returns the record identifier rendered as a string.
func (r Record) ID() string {
	v, ok := r.Get(IDField)
	if !ok {
		return ""
	}
	s, _ := Scalar(v)
	return s
}

// With returns a copy of r with field overridden. Base is shared, not
// copied, and r itself is left untouched.
func (r Record) With(field string, v Value) Record {
	overrides := make(Object, len(r.Overrides)+1)
	for k, ov := range r.Overrides {
		overrides[k] = ov
	}
	overrides[field] = v
	return Record{Base: r.Base, Overrides: overrides}
}

// Overridden reports whether field has an override.
func (r Record) Overridden(field string) bool {
	_, ok := r.Overrides[field]
	return ok
}

// Materialize flattens the record into a single object.
func (r Record) Materialize() Object {
	out := make(Object, len(r.Base)+len(r.Overrides))
	for k, v := range r.Base {
		out[k] = v
	}
	for k, v := range r.Overrides {
		out[k] = v
	}
	return out
}

// Changes returns only the overridden fields.
func (r Record) Changes() Object {
	return r.Overrides.Clone()
}
