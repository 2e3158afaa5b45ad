// Package triples defines the fact model shared by every layer of the store:
// triples, their fields and the six permutation indexes that key them.
package triples

import (
	"fmt"
)

// Triple is a (subject, predicate, object) fact. Identity is the content.
type Triple struct {
	Subject   Value
	Predicate Value
	Object    Value
}

// T is shorthand for building a triple.
func T(s, p, o Value) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

// Get returns the value of a field.
func (t Triple) Get(f Field) Value {
	switch f {
	case Subject:
		return t.Subject
	case Predicate:
		return t.Predicate
	case Object:
		return t.Object
	default:
		return nil
	}
}

// With returns a copy of t with field f replaced.
func (t Triple) With(f Field, v Value) Triple {
	switch f {
	case Subject:
		t.Subject = v
	case Predicate:
		t.Predicate = v
	case Object:
		t.Object = v
	}
	return t
}

// Normalize normalizes every present field.
func (t Triple) Normalize() (Triple, error) {
	var out Triple
	for _, f := range Fields {
		v, err := Normalize(t.Get(f))
		if err != nil {
			return Triple{}, fmt.Errorf("%s: %w", f, err)
		}
		out = out.With(f, v)
	}
	return out, nil
}

// Complete reports whether all three fields are present.
func (t Triple) Complete() bool {
	return t.Subject != nil && t.Predicate != nil && t.Object != nil
}

func (t Triple) String() string {
	return fmt.Sprintf("[%s %s %s]", Format(t.Subject), Format(t.Predicate), Format(t.Object))
}

// Field names one position of a triple
type Field uint8

const (
	Subject Field = iota
	Predicate
	Object
)

// Fields lists the fields in canonical (subject, predicate, object) order.
var Fields = [3]Field{Subject, Predicate, Object}

func (f Field) String() string {
	switch f {
	case Subject:
		return "subject"
	case Predicate:
		return "predicate"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("Field(%d)", uint8(f))
	}
}

// Letter is the single-letter form used in index names.
func (f Field) Letter() byte {
	return "spo"[f]
}

// Index is one of the six permutations of (subject, predicate, object)
type Index uint8

// Declared in lexicographic order of their names, so comparing two Index
// values compares their names.
const (
	OPS Index = iota // Object-Predicate-Subject
	OSP              // Object-Subject-Predicate
	POS              // Predicate-Object-Subject
	PSO              // Predicate-Subject-Object
	SOP              // Subject-Object-Predicate
	SPO              // Subject-Predicate-Object
)

// Indexes lists all permutations in lexicographic name order.
var Indexes = [6]Index{OPS, OSP, POS, PSO, SOP, SPO}

var indexFields = [6][3]Field{
	OPS: {Object, Predicate, Subject},
	OSP: {Object, Subject, Predicate},
	POS: {Predicate, Object, Subject},
	PSO: {Predicate, Subject, Object},
	SOP: {Subject, Object, Predicate},
	SPO: {Subject, Predicate, Object},
}

// Fields returns the field order of the index.
func (i Index) Fields() [3]Field {
	return indexFields[i]
}

// Position returns where field f sits in the index's key.
func (i Index) Position(f Field) int {
	for pos, g := range indexFields[i] {
		if g == f {
			return pos
		}
	}
	return -1
}

// Valid reports whether i names a known permutation.
func (i Index) Valid() bool {
	return int(i) < len(indexFields)
}

func (i Index) String() string {
	if !i.Valid() {
		return fmt.Sprintf("Index(%d)", uint8(i))
	}
	f := indexFields[i]
	return string([]byte{f[0].Letter() - 'a' + 'A', f[1].Letter() - 'a' + 'A', f[2].Letter() - 'a' + 'A'})
}

// Tag is the lowercase key prefix of the index.
func (i Index) Tag() string {
	f := indexFields[i]
	return string([]byte{f[0].Letter(), f[1].Letter(), f[2].Letter()})
}

// ParseIndex parses an index name such as "SPO" or "pos".
func ParseIndex(name string) (Index, error) {
	for _, idx := range Indexes {
		if idx.String() == name || idx.Tag() == name {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("unknown index %q", name)
}
