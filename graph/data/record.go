package data

import (
	"fmt"
	"slices"
)

// AnyType may appear in an allowed-types list to accept every payload.
const AnyType = "any"

// RecordField declares one named field of a record type.
type RecordField struct {
	Name string

	// Allowed lists the class names (or kinds) the field accepts. An empty
	// list accepts any payload.
	Allowed []string
}

// RecordType is a named, closed set of fields. Each record type is
// registered under its Name, which is also its discriminator.
type RecordType struct {
	Name   string
	Fields []RecordField
}

// Field returns the declaration of the named field.
func (t *RecordType) Field(name string) (RecordField, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return RecordField{}, false
}

// New builds a record of this type. Every key of values must be a declared
// field and every value must match the field's allowed types.
func (t *RecordType) New(values map[string]Payload) (*Record, error) {
	r := &Record{typ: t, fields: make(map[string]Payload, len(t.Fields))}
	for name, v := range values {
		if err := r.Set(name, v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record is a payload whose value is a fixed set of named fields.
type Record struct {
	Base
	typ    *RecordType
	fields map[string]Payload
}

func (r *Record) ClassName() string { return r.typ.Name }
func (r *Record) Kind() Kind        { return KindRecord }

// Type returns the record's declaration.
func (r *Record) Type() *RecordType {
	return r.typ
}

// Get returns the value of a field, or nil when unset.
func (r *Record) Get(name string) Payload {
	return r.fields[name]
}

// Set assigns a field. Setting nil clears it.
func (r *Record) Set(name string, v Payload) error {
	f, ok := r.typ.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrWrongType, r.typ.Name, name)
	}
	if v != nil && !Allowed(f.Allowed, v) {
		return fmt.Errorf("%w: field %s.%s does not accept %s", ErrWrongType, r.typ.Name, name, v.ClassName())
	}
	if v == nil {
		delete(r.fields, name)
		return nil
	}
	r.fields[name] = v
	return nil
}

// Allowed reports whether p satisfies an allowed-types list. Entries match
// either the class name or the kind of p.
func Allowed(allowed []string, p Payload) bool {
	if len(allowed) == 0 || p == nil {
		return true
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		return a == AnyType || a == p.ClassName() || a == string(p.Kind())
	})
}
