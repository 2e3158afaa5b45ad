package query

import (
	"sort"
	"strings"

	"github.com/wbrown/janus-triples/triples"
	terr "github.com/wbrown/janus-triples/triples/errors"
)

// Solution is an immutable set of variable bindings. Binding a variable
// returns a new Solution; the receiver is never modified, so solutions can be
// shared freely between pipeline stages.
type Solution struct {
	bindings map[string]triples.Value
}

// EmptySolution returns a solution with no bindings.
func EmptySolution() Solution {
	return Solution{}
}

// NewSolution builds a solution from plain Go values. Values are normalized;
// unsupported values and empty names are rejected.
func NewSolution(values map[string]interface{}) (Solution, error) {
	if len(values) == 0 {
		return Solution{}, nil
	}
	m := make(map[string]triples.Value, len(values))
	for name, v := range values {
		if name == "" {
			return Solution{}, terr.New(terr.CodeQueryPatternInvalid, "binding without a variable name")
		}
		n, err := triples.Normalize(v)
		if err != nil || n == nil {
			return Solution{}, terr.New(terr.CodeQueryPatternInvalid, "binding has an unsupported value",
				terr.Field("variable", name))
		}
		m[name] = n
	}
	return Solution{bindings: m}, nil
}

// Get returns the value bound to name.
func (s Solution) Get(name string) (triples.Value, bool) {
	v, ok := s.bindings[name]
	return v, ok
}

// IsBound reports whether v has a value in s.
func (s Solution) IsBound(v Variable) bool {
	_, ok := s.bindings[v.Name]
	return ok
}

// Len returns the number of bindings
func (s Solution) Len() int { return len(s.bindings) }

// Names returns the bound variable names, sorted.
func (s Solution) Names() []string {
	names := make([]string, 0, len(s.bindings))
	for n := range s.bindings {
		names = append(names, n)
	}
	sortStrings(names)
	return names
}

// Map returns a copy of the bindings.
func (s Solution) Map() map[string]triples.Value {
	m := make(map[string]triples.Value, len(s.bindings))
	for k, v := range s.bindings {
		m[k] = v
	}
	return m
}

// Bind unifies v with value. If v is unbound the result is a new solution
// extending s. If v is already bound to an equal value s is returned
// unchanged, and if it is bound to a different value the bind fails.
func (s Solution) Bind(v Variable, value triples.Value) (Solution, bool) {
	if cur, ok := s.bindings[v.Name]; ok {
		return s, triples.Equal(cur, value)
	}
	m := make(map[string]triples.Value, len(s.bindings)+1)
	for k, x := range s.bindings {
		m[k] = x
	}
	m[v.Name] = value
	return Solution{bindings: m}, true
}

// With is Bind for callers building solutions by hand: the value is
// normalized and a conflicting binding is reported as an error.
func (s Solution) With(name string, value interface{}) (Solution, error) {
	n, err := triples.Normalize(value)
	if err != nil || n == nil || name == "" {
		return s, terr.New(terr.CodeQueryPatternInvalid, "invalid binding", terr.Field("variable", name))
	}
	out, ok := s.Bind(V(name), n)
	if !ok {
		return s, terr.New(terr.CodeQueryBindingConflict, "variable already bound to a different value",
			terr.Field("variable", name))
	}
	return out, nil
}

// Equal reports whether both solutions hold the same bindings.
func (s Solution) Equal(o Solution) bool {
	if len(s.bindings) != len(o.bindings) {
		return false
	}
	for k, v := range s.bindings {
		w, ok := o.bindings[k]
		if !ok || !triples.Equal(v, w) {
			return false
		}
	}
	return true
}

// String renders the bindings sorted by name, e.g. {x: bob, y: carol}.
func (s Solution) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range s.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(triples.Format(s.bindings[n]))
	}
	b.WriteByte('}')
	return b.String()
}

// Match unifies pattern p against triple t under s. Constants must equal the
// triple's field, variables are bound (or checked when already bound) and
// blanks or absent fields match anything. A variable occurring twice in p
// must see the same value in both positions. The pattern's Filter, if any,
// must accept t.
func Match(s Solution, p Pattern, t triples.Triple) (Solution, bool) {
	out := s
	for _, f := range triples.Fields {
		switch term := p.Term(f).(type) {
		case Constant:
			if !triples.Equal(term.Value, t.Get(f)) {
				return s, false
			}
		case Variable:
			var ok bool
			if out, ok = out.Bind(term, t.Get(f)); !ok {
				return s, false
			}
		}
	}
	if p.Filter != nil && !p.Filter(t) {
		return s, false
	}
	return out, true
}

// Template maps output names to terms. Materializing a solution through a
// template resolves each variable term against the solution and keeps
// constants as they are.
type Template map[string]Term

// Materialize produces a new solution keyed by the template's names.
// Variables the solution does not bind are left out.
func (t Template) Materialize(s Solution) Solution {
	m := make(map[string]triples.Value, len(t))
	for name, term := range t {
		switch v := term.(type) {
		case Variable:
			if val, ok := s.Get(v.Name); ok {
				m[name] = val
			}
		case Constant:
			m[name] = v.Value
		}
	}
	return Solution{bindings: m}
}

func sortStrings(s []string) {
	sort.Strings(s)
}
