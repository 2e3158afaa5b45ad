package query

import (
	"fmt"

	"github.com/wbrown/janus-triples/triples"
	terr "github.com/wbrown/janus-triples/triples/errors"
)

// Navigator builds a conjunctive query by walking the graph from a starting
// vertex. Each ArchOut or ArchIn step adds one pattern and moves the current
// position to a fresh variable. Synthetic variable names (x0, x1, ...) come
// from a counter owned by the navigator, so two navigators never influence
// each other's names.
//
//	nav := NewNavigator("alice").ArchOut("knows").ArchOut("knows").As("fof")
//	db.NavValues(ctx, nav)
type Navigator struct {
	start    interface{}
	current  Term
	patterns []Pattern
	initial  Solution
	counter  int
	err      error
}

// NewNavigator starts a walk at start, which may be a Variable, a value, or
// nil for a fresh variable.
func NewNavigator(start interface{}) *Navigator {
	n := &Navigator{start: start}
	n.Reset()
	return n
}

// Reset clears patterns, bindings and the synthetic name counter and moves
// back to the starting vertex.
func (n *Navigator) Reset() *Navigator {
	n.patterns = nil
	n.initial = EmptySolution()
	n.counter = 0
	n.err = nil
	n.current = nil
	n.current = n.vertex(n.start)
	return n
}

// ArchOut follows edges labelled predicate from the current vertex to their
// objects.
func (n *Navigator) ArchOut(predicate interface{}) *Navigator {
	next := n.fresh()
	n.patterns = append(n.patterns, Pattern{Subject: n.current, Predicate: n.vertex(predicate), Object: next})
	n.current = next
	return n
}

// ArchIn follows edges labelled predicate backwards, from the current vertex
// to the subjects pointing at it.
func (n *Navigator) ArchIn(predicate interface{}) *Navigator {
	next := n.fresh()
	n.patterns = append(n.patterns, Pattern{Subject: next, Predicate: n.vertex(predicate), Object: n.current})
	n.current = next
	return n
}

// As names the current vertex. A variable is renamed in every pattern that
// uses it; a constant vertex becomes a variable bound to that constant.
// Naming a variable after another one already in the walk is an error; use
// Go with that variable to revisit it instead.
func (n *Navigator) As(name string) *Navigator {
	if name == "" {
		n.fail(terr.New(terr.CodeQueryPatternInvalid, "navigator variable name is empty"))
		return n
	}
	switch cur := n.current.(type) {
	case Variable:
		if cur.Name == name {
			return n
		}
		if n.uses(name) {
			n.fail(terr.New(terr.CodeQueryBindingConflict, "navigator variable name already in use",
				terr.Field("variable", name)))
			return n
		}
		renamed := V(name)
		for i, p := range n.patterns {
			for _, f := range triples.Fields {
				if v, ok := p.Term(f).(Variable); ok && v.Name == cur.Name {
					p = p.With(f, renamed)
				}
			}
			n.patterns[i] = p
		}
		if val, ok := n.initial.Get(cur.Name); ok {
			m := n.initial.Map()
			delete(m, cur.Name)
			m[name] = val
			n.initial = Solution{bindings: m}
		}
		n.current = renamed
	case Constant:
		if n.uses(name) {
			n.fail(terr.New(terr.CodeQueryBindingConflict, "navigator variable name already in use",
				terr.Field("variable", name)))
			return n
		}
		sol, err := n.initial.With(name, cur.Value)
		if err != nil {
			n.fail(err)
			return n
		}
		n.initial = sol
		n.current = V(name)
	}
	return n
}

// Bind fixes the value of the current vertex through the initial solution.
func (n *Navigator) Bind(value interface{}) *Navigator {
	v, ok := n.current.(Variable)
	if !ok {
		n.fail(terr.New(terr.CodeQueryBindingConflict, "current vertex is already a constant",
			terr.Field("vertex", n.current.String())))
		return n
	}
	sol, err := n.initial.With(v.Name, value)
	if err != nil {
		n.fail(err)
		return n
	}
	n.initial = sol
	return n
}

// Go jumps to another vertex without adding a pattern. nil means a fresh
// variable.
func (n *Navigator) Go(vertex interface{}) *Navigator {
	n.current = n.vertex(vertex)
	return n
}

// Current returns the current vertex.
func (n *Navigator) Current() Term { return n.current }

// Patterns returns a copy of the patterns collected so far.
func (n *Navigator) Patterns() []Pattern {
	out := make([]Pattern, len(n.patterns))
	copy(out, n.patterns)
	return out
}

// InitialSolution returns the bindings collected by Bind and As.
func (n *Navigator) InitialSolution() Solution { return n.initial }

// Err returns the first error recorded by a navigation step.
func (n *Navigator) Err() error { return n.err }

func (n *Navigator) fail(err error) {
	if n.err == nil {
		n.err = err
	}
}

func (n *Navigator) fresh() Variable {
	for {
		name := fmt.Sprintf("x%d", n.counter)
		n.counter++
		if !n.uses(name) {
			return V(name)
		}
	}
}

func (n *Navigator) uses(name string) bool {
	if _, ok := n.initial.Get(name); ok {
		return true
	}
	if v, ok := n.current.(Variable); ok && v.Name == name {
		return true
	}
	for _, p := range n.patterns {
		if _, ok := p.FieldOf(name); ok {
			return true
		}
	}
	return false
}

func (n *Navigator) vertex(v interface{}) Term {
	switch t := v.(type) {
	case nil:
		return n.fresh()
	case Term:
		return t
	}
	c := C(v)
	if _, err := triples.Normalize(c.Value); err != nil {
		n.fail(terr.Wrap(err, terr.CodeQueryPatternInvalid, "navigator vertex has an unsupported value"))
	}
	return c
}
