package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/codec"
	"github.com/wbrown/janus-triples/triples/query"
)

func TestCandidateIndexes(t *testing.T) {
	tests := []struct {
		name  string
		bound []triples.Field
		want  []triples.Index
	}{
		{"none", nil, []triples.Index{triples.OPS, triples.OSP, triples.POS, triples.PSO, triples.SOP, triples.SPO}},
		{"subject", []triples.Field{triples.Subject}, []triples.Index{triples.SOP, triples.SPO}},
		{"object", []triples.Field{triples.Object}, []triples.Index{triples.OPS, triples.OSP}},
		{"subject+predicate", []triples.Field{triples.Subject, triples.Predicate}, []triples.Index{triples.PSO, triples.SPO}},
		{"subject+object", []triples.Field{triples.Subject, triples.Object}, []triples.Index{triples.OSP, triples.SOP}},
		{"all", []triples.Field{triples.Subject, triples.Predicate, triples.Object}, triples.Indexes[:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateIndexes(tt.bound))
		})
	}
}

func TestChooseIndex(t *testing.T) {
	p := query.P("alice", "knows", "?x")
	assert.Equal(t, triples.PSO, ChooseIndex(p, NoPreference))
	assert.Equal(t, triples.SPO, ChooseIndex(p, triples.SPO))
	assert.Equal(t, triples.PSO, ChooseIndex(p, triples.OPS), "non-candidate preference falls back")
	assert.Equal(t, triples.OPS, ChooseIndex(query.P("?s", "?p", "?o"), NoPreference))
}

func TestBuildRange(t *testing.T) {
	p := query.P("alice", "knows", "?x")
	r, err := BuildRange(p, triples.SPO)
	require.NoError(t, err)
	assert.False(t, r.Reverse)
	assert.True(t, r.Reversed().Reverse)
	assert.False(t, r.Reverse)

	in, err := codec.BuildKey(triples.SPO, triples.T("alice", "knows", "bob"))
	require.NoError(t, err)
	out, err := codec.BuildKey(triples.SPO, triples.T("alice", "likes", "bob"))
	require.NoError(t, err)
	assert.True(t, bytes.Compare(r.Start, in) <= 0 && bytes.Compare(in, r.End) < 0)
	assert.False(t, bytes.Compare(r.Start, out) <= 0 && bytes.Compare(out, r.End) < 0)

	// OPS is not a candidate; the range degrades to the whole index.
	wide, err := BuildRange(p, triples.OPS)
	require.NoError(t, err)
	assert.Equal(t, []byte("ops\x00"), wide.Start)

	_, err = BuildRange(query.P("bad\xff", "?p", "?o"), triples.SPO)
	assert.Error(t, err)
}

func TestOrderingAndIndexForOrder(t *testing.T) {
	p := query.P("?y", "knows", "?x")
	order, ok := Ordering(p, []string{"y"})
	require.True(t, ok)
	assert.Equal(t, []triples.Field{triples.Predicate, triples.Subject, triples.Object}, order)
	idx, ok := IndexForOrder(order[:2])
	require.True(t, ok)
	assert.Equal(t, triples.PSO, idx)

	_, ok = Ordering(p, []string{"z"})
	assert.False(t, ok)

	idx, ok = IndexForOrder(nil)
	require.True(t, ok)
	assert.Equal(t, triples.OPS, idx)
}

func TestVariableOrder(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, VariableOrder(query.P("alice", "?x", "?y"), triples.SPO))
	assert.Equal(t, []string{"y", "x"}, VariableOrder(query.P("alice", "?x", "?y"), triples.SOP))
	assert.Equal(t, []string{"x"}, VariableOrder(query.P("?x", "_", "?y"), triples.SPO))
	assert.Equal(t, []string{"x"}, VariableOrder(query.P("?x", "knows", "?x"), triples.PSO))
}
