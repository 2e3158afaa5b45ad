// Package index decides which of the six permutation indexes serves a
// pattern and computes the key range to scan.
package index

import (
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/codec"
	"github.com/wbrown/janus-triples/triples/query"
)

// NoPreference can be passed to ChooseIndex when the caller has no preferred
// index.
const NoPreference triples.Index = 0xFF

// Range is a key range over one index. End is exclusive.
type Range struct {
	Index   triples.Index
	Start   []byte
	End     []byte
	Reverse bool
}

// Reversed returns a copy of r scanned in descending key order.
func (r Range) Reversed() Range {
	r.Reverse = true
	return r
}

// BoundFieldNames returns the fields of p that hold constants.
func BoundFieldNames(p query.Pattern) []triples.Field {
	return p.BoundFields()
}

// IsCandidate reports whether idx places every bound field in a contiguous
// leading prefix of its key.
func IsCandidate(idx triples.Index, bound []triples.Field) bool {
	if !idx.Valid() || len(bound) > 3 {
		return false
	}
	order := idx.Fields()
	for _, f := range order[:len(bound)] {
		if !containsField(bound, f) {
			return false
		}
	}
	return true
}

// CandidateIndexes returns the indexes that can serve a pattern with the
// given bound fields, in lexicographic order. With no bound fields every
// index is a candidate.
func CandidateIndexes(bound []triples.Field) []triples.Index {
	var out []triples.Index
	for _, idx := range triples.Indexes {
		if IsCandidate(idx, bound) {
			out = append(out, idx)
		}
	}
	return out
}

// ChooseIndex returns preferred when it is a candidate for p, otherwise the
// lexicographically first candidate.
func ChooseIndex(p query.Pattern, preferred triples.Index) triples.Index {
	bound := BoundFieldNames(p)
	if IsCandidate(preferred, bound) {
		return preferred
	}
	// Every bound set of a triple has at least one candidate.
	return CandidateIndexes(bound)[0]
}

// BuildRange returns the prefix range of p under idx. If idx is not a
// candidate the range covers the longest bound prefix, so it still contains
// every match and the caller must check the remaining constants.
func BuildRange(p query.Pattern, idx triples.Index) (Range, error) {
	prefix, err := codec.BuildKey(idx, p.Bound())
	if err != nil {
		return Range{}, err
	}
	start, end := codec.PrefixRange(prefix)
	return Range{Index: idx, Start: start, End: end}, nil
}

// IndexForOrder returns the lexicographically first index whose key starts
// with the given fields, in that order.
func IndexForOrder(order []triples.Field) (triples.Index, bool) {
	if len(order) > 3 {
		return 0, false
	}
	for _, idx := range triples.Indexes {
		fields := idx.Fields()
		ok := true
		for i, f := range order {
			if fields[i] != f {
				ok = false
				break
			}
		}
		if ok {
			return idx, true
		}
	}
	return 0, false
}

// Ordering lists the fields of p with constants first (in canonical field
// order), then the fields holding the named variables in the given order,
// then everything else. The second result is false when a named variable
// does not occur in p.
func Ordering(p query.Pattern, vars []string) ([]triples.Field, bool) {
	order := append([]triples.Field(nil), p.BoundFields()...)
	for _, name := range vars {
		f, ok := p.FieldOf(name)
		if !ok {
			return nil, false
		}
		order = append(order, f)
	}
	for _, f := range triples.Fields {
		if !containsField(order, f) {
			order = append(order, f)
		}
	}
	return order, true
}

// VariableOrder returns the distinct variables of p in the key order of idx,
// which is the order a scan of idx sorts its matches by. Constants are
// skipped; a blank or absent field ends the order since rows are not sorted
// by anything after it.
func VariableOrder(p query.Pattern, idx triples.Index) []string {
	var names []string
	for _, f := range idx.Fields() {
		var v query.Variable
		switch t := p.Term(f).(type) {
		case query.Constant:
			continue
		case query.Variable:
			v = t
		default:
			return names
		}
		seen := false
		for _, n := range names {
			if n == v.Name {
				seen = true
			}
		}
		if !seen {
			names = append(names, v.Name)
		}
	}
	return names
}

func containsField(fields []triples.Field, f triples.Field) bool {
	for _, g := range fields {
		if g == f {
			return true
		}
	}
	return false
}
