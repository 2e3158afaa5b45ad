// Package query holds the logic-variable model of the engine: pattern terms,
// triple patterns, and immutable solutions with unification semantics.
package query

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/codec"
	terr "github.com/wbrown/janus-triples/triples/errors"
)

// Term is one position of a pattern: a Variable, a Constant or a Blank.
// A nil Term means the field is absent and behaves like a Blank.
type Term interface {
	IsVariable() bool
	IsBlank() bool
	String() string
}

// Variable is a named placeholder (e.g. ?x)
type Variable struct {
	Name string
}

func (v Variable) IsVariable() bool { return true }
func (v Variable) IsBlank() bool    { return false }
func (v Variable) String() string   { return "?" + v.Name }

// Blank is a wildcard (_) that matches anything and binds nothing
type Blank struct{}

func (b Blank) IsVariable() bool { return false }
func (b Blank) IsBlank() bool    { return true }
func (b Blank) String() string   { return "_" }

// Constant is a concrete field value
type Constant struct {
	Value triples.Value
}

func (c Constant) IsVariable() bool { return false }
func (c Constant) IsBlank() bool    { return false }
func (c Constant) String() string   { return triples.Format(c.Value) }

// V creates a variable term.
func V(name string) Variable {
	return Variable{Name: name}
}

// C creates a constant term. The value is normalized when possible; values
// that cannot be normalized are kept as is and rejected by Validate.
func C(v interface{}) Constant {
	if n, err := triples.Normalize(v); err == nil {
		return Constant{Value: n}
	}
	return Constant{Value: v}
}

// ParseTerm reads the textual form used by data and query files: "?name" is a
// variable, "_" is a blank, anything else is a constant.
func ParseTerm(v interface{}) Term {
	if s, ok := v.(string); ok {
		switch {
		case s == "_":
			return Blank{}
		case len(s) > 1 && s[0] == '?':
			return V(s[1:])
		}
	}
	if v == nil {
		return nil
	}
	return C(v)
}

// Pattern is a triple template. Filter, when set, is applied to every triple
// the pattern matches.
type Pattern struct {
	Subject   Term
	Predicate Term
	Object    Term
	Filter    func(triples.Triple) bool
}

// P builds a pattern, converting each argument with ParseTerm unless it is
// already a Term.
func P(s, p, o interface{}) Pattern {
	return Pattern{Subject: toTerm(s), Predicate: toTerm(p), Object: toTerm(o)}
}

func toTerm(v interface{}) Term {
	if t, ok := v.(Term); ok {
		return t
	}
	return ParseTerm(v)
}

// Term returns the term at field f.
func (p Pattern) Term(f triples.Field) Term {
	switch f {
	case triples.Subject:
		return p.Subject
	case triples.Predicate:
		return p.Predicate
	case triples.Object:
		return p.Object
	default:
		return nil
	}
}

// With returns a copy of p with field f replaced.
func (p Pattern) With(f triples.Field, t Term) Pattern {
	switch f {
	case triples.Subject:
		p.Subject = t
	case triples.Predicate:
		p.Predicate = t
	case triples.Object:
		p.Object = t
	}
	return p
}

// Validate rejects patterns that cannot be evaluated: no fields at all, an
// unnamed variable, or a constant the key codec cannot encode.
func (p Pattern) Validate() error {
	present := 0
	for _, f := range triples.Fields {
		switch t := p.Term(f).(type) {
		case nil:
			continue
		case Variable:
			if t.Name == "" {
				return terr.New(terr.CodeQueryPatternInvalid, "variable without a name",
					terr.Field("field", f.String()))
			}
		case Constant:
			// Values must already be normalized (see C).
			if _, err := codec.EncodeField(t.Value); err != nil {
				return terr.New(terr.CodeQueryPatternInvalid, "constant has an unsupported value",
					terr.Field("field", f.String()), terr.Field("value", fmt.Sprintf("%v", t.Value)),
					terr.Field("reason", err.Error()))
			}
		}
		present++
	}
	if present == 0 {
		return terr.New(terr.CodeQueryPatternInvalid, "pattern has no fields")
	}
	return nil
}

// BoundFields returns the fields holding constants, in canonical order.
func (p Pattern) BoundFields() []triples.Field {
	var out []triples.Field
	for _, f := range triples.Fields {
		if _, ok := p.Term(f).(Constant); ok {
			out = append(out, f)
		}
	}
	return out
}

// Bound returns a triple holding only the constant fields of p.
func (p Pattern) Bound() triples.Triple {
	var t triples.Triple
	for _, f := range triples.Fields {
		if c, ok := p.Term(f).(Constant); ok {
			t = t.With(f, c.Value)
		}
	}
	return t
}

// Variables returns the distinct variable names of p in field order.
func (p Pattern) Variables() []string {
	var names []string
	for _, f := range triples.Fields {
		v, ok := p.Term(f).(Variable)
		if !ok {
			continue
		}
		dup := false
		for _, n := range names {
			if n == v.Name {
				dup = true
				break
			}
		}
		if !dup {
			names = append(names, v.Name)
		}
	}
	return names
}

// FieldOf returns the first field holding variable name.
func (p Pattern) FieldOf(name string) (triples.Field, bool) {
	for _, f := range triples.Fields {
		if v, ok := p.Term(f).(Variable); ok && v.Name == name {
			return f, true
		}
	}
	return 0, false
}

// Substitute returns a new pattern in which every variable bound in s is
// replaced by its value. p itself is never modified.
func (p Pattern) Substitute(s Solution) Pattern {
	out := p
	for _, f := range triples.Fields {
		if v, ok := p.Term(f).(Variable); ok {
			if val, bound := s.Get(v.Name); bound {
				out = out.With(f, Constant{Value: val})
			}
		}
	}
	return out
}

// String returns a string representation of the pattern
func (p Pattern) String() string {
	parts := make([]string, 0, 3)
	for _, f := range triples.Fields {
		if t := p.Term(f); t != nil {
			parts = append(parts, t.String())
		} else {
			parts = append(parts, "_")
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// SharedVariables returns the variable names occurring in both patterns,
// sorted by name.
func SharedVariables(a, b Pattern) []string {
	var shared []string
	for _, n := range a.Variables() {
		for _, m := range b.Variables() {
			if n == m {
				shared = append(shared, n)
				break
			}
		}
	}
	sortStrings(shared)
	return shared
}
