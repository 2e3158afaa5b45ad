package triples

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexNamesAreLexicographic(t *testing.T) {
	for i := 1; i < len(Indexes); i++ {
		assert.Less(t, Indexes[i-1].String(), Indexes[i].String())
		assert.Less(t, uint8(Indexes[i-1]), uint8(Indexes[i]))
	}
	assert.Equal(t, "SPO", SPO.String())
	assert.Equal(t, "pos", POS.Tag())
}

func TestIndexFieldsArePermutations(t *testing.T) {
	for _, idx := range Indexes {
		seen := map[Field]bool{}
		for pos, f := range idx.Fields() {
			seen[f] = true
			assert.Equal(t, pos, idx.Position(f))
		}
		assert.Len(t, seen, 3, idx.String())
	}
}

func TestParseIndex(t *testing.T) {
	idx, err := ParseIndex("OSP")
	require.NoError(t, err)
	assert.Equal(t, OSP, idx)

	idx, err = ParseIndex("pso")
	require.NoError(t, err)
	assert.Equal(t, PSO, idx)

	_, err = ParseIndex("SPX")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   interface{}
		want Value
	}{
		{"alice", "alice"},
		{42, int64(42)},
		{int32(-7), int64(-7)},
		{uint16(9), int64(9)},
		{float32(1.5), float64(1.5)},
		{true, true},
		{nil, nil},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Normalize(math.NaN())
	assert.Error(t, err)
	_, err = Normalize(uint64(math.MaxUint64))
	assert.Error(t, err)
	_, err = Normalize([]byte("raw"))
	assert.Error(t, err)
}

func TestTripleNormalize(t *testing.T) {
	tr, err := T("alice", "age", 30).Normalize()
	require.NoError(t, err)
	assert.Equal(t, int64(30), tr.Object)
	assert.True(t, tr.Complete())
	assert.Equal(t, "[alice age 30]", tr.String())

	_, err = T("alice", "score", math.NaN()).Normalize()
	assert.ErrorContains(t, err, "object")
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("a", "a"))
	assert.False(t, Equal("1", int64(1)))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, "a"))
}
