package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/annotations"
	"github.com/wbrown/janus-triples/triples/codec"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/metrics"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
	"github.com/wbrown/janus-triples/triples/storage"
)

func load(t testing.TB, s storage.Store, ts ...triples.Triple) {
	t.Helper()
	var ops []storage.Op
	for _, tr := range ts {
		tr, err := tr.Normalize()
		require.NoError(t, err)
		keys, err := codec.BuildAllKeys(tr)
		require.NoError(t, err)
		value, err := codec.EncodeTriple(tr)
		require.NoError(t, err)
		for _, k := range keys {
			ops = append(ops, storage.Op{Type: storage.Put, Key: k, Value: value})
		}
	}
	require.NoError(t, s.Batch(context.Background(), ops))
}

func exampleStore(t testing.TB) *storage.Instrumented {
	s := storage.NewInstrumented(storage.NewMemoryStore(), nil)
	load(t, s,
		triples.T("alice", "knows", "bob"),
		triples.T("bob", "knows", "carol"),
		triples.T("alice", "knows", "carol"),
	)
	return s
}

func strategies() []planner.JoinStrategy {
	return []planner.JoinStrategy{planner.NestedLoop, planner.SortMerge}
}

func TestExampleScenario(t *testing.T) {
	patterns := []query.Pattern{
		query.P("alice", "knows", "?x"),
		query.P("?x", "knows", "?y"),
	}
	for _, join := range strategies() {
		t.Run(join.String(), func(t *testing.T) {
			s := exampleStore(t)
			res, err := NewExecutor(s, Config{}).Query(context.Background(), patterns, Options{JoinAlgorithm: join})
			require.NoError(t, err)
			sols, err := res.All()
			require.NoError(t, err)
			require.Len(t, sols, 1)
			assert.Equal(t, map[string]triples.Value{"x": "bob", "y": "carol"}, sols[0].Map())
			assert.Zero(t, s.OpenIterators())
		})
	}
}

func TestLimitClosesCursors(t *testing.T) {
	for _, join := range strategies() {
		t.Run(join.String(), func(t *testing.T) {
			s := exampleStore(t)
			patterns := []query.Pattern{query.P("?a", "knows", "?b")}

			all, err := NewExecutor(s, Config{}).Query(context.Background(), patterns, Options{JoinAlgorithm: join})
			require.NoError(t, err)
			sols, err := all.All()
			require.NoError(t, err)
			require.Len(t, sols, 3)

			c := annotations.NewCollector(nil)
			res, err := NewExecutor(s, Config{BufferSize: 1}).Query(context.Background(), patterns,
				Options{JoinAlgorithm: join, Limit: 1, Annotations: c})
			require.NoError(t, err)
			require.True(t, res.Next())
			assert.False(t, res.Next())
			require.NoError(t, res.Err())
			assert.Zero(t, s.OpenIterators(), "limit must close every cursor")
			assert.Len(t, c.Named(annotations.LimitReached), 1)
		})
	}
}

func TestCloseStopsLongScan(t *testing.T) {
	s := storage.NewInstrumented(storage.NewMemoryStore(), nil)
	var ts []triples.Triple
	for i := 0; i < 2000; i++ {
		ts = append(ts, triples.T(fmt.Sprintf("s%04d", i), "p", int64(i)))
	}
	load(t, s, ts...)

	res, err := NewExecutor(s, Config{BufferSize: 2}).Query(context.Background(),
		[]query.Pattern{query.P("?s", "p", "?o")}, Options{})
	require.NoError(t, err)
	require.True(t, res.Next())
	require.NoError(t, res.Close())
	assert.False(t, res.Next())
	assert.NoError(t, res.Err())
	assert.Zero(t, s.OpenIterators())
	assert.Less(t, s.RowsRead(), int64(2000), "backpressure keeps the scan from running ahead")
}

func TestEmptyQueryTouchesNothing(t *testing.T) {
	s := &countingStore{Store: storage.NewMemoryStore()}
	res, err := NewExecutor(s, Config{}).Query(context.Background(), nil, Options{})
	require.NoError(t, err)
	sols, err := res.All()
	require.NoError(t, err)
	assert.Empty(t, sols)
	assert.Zero(t, s.calls)
}

func TestMalformedInputRejectedSynchronously(t *testing.T) {
	s := &countingStore{Store: storage.NewMemoryStore()}
	exec := NewExecutor(s, Config{})

	_, err := exec.Query(context.Background(), []query.Pattern{{}}, Options{})
	require.Error(t, err)
	assert.Equal(t, terr.CodeQueryPatternInvalid, terr.CodeOf(err))

	_, err = exec.Query(context.Background(), []query.Pattern{query.P("?s", "p", "?o")}, Options{Limit: -1})
	require.Error(t, err)
	assert.Equal(t, terr.CodeQueryOptionInvalid, terr.CodeOf(err))

	_, err = exec.Query(context.Background(), []query.Pattern{query.P("?s", "p", "?o")},
		Options{Materialized: query.Template{"x": query.Blank{}}})
	assert.Error(t, err)
	assert.Zero(t, s.calls)
}

func TestUnencodableConstantRejectedBeforeStoreAccess(t *testing.T) {
	tests := []struct {
		name string
		bad  query.Pattern
	}{
		{"invalid utf-8", query.P("?x", "knows", "bad\xff")},
		{"unnormalized int", query.Pattern{Subject: query.V("x"), Predicate: query.Constant{Value: 5}, Object: query.V("y")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &countingStore{Store: storage.NewMemoryStore()}
			patterns := []query.Pattern{query.P("alice", "knows", "?x"), tt.bad}
			for _, join := range strategies() {
				_, err := NewExecutor(s, Config{}).Query(context.Background(), patterns, Options{JoinAlgorithm: join})
				require.Error(t, err)
				assert.Equal(t, terr.CodeQueryPatternInvalid, terr.CodeOf(err))
				assert.True(t, terr.IsInvalidInput(err))

				_, err = NewExecutor(s, Config{}).Explain(context.Background(), patterns, Options{JoinAlgorithm: join})
				assert.Error(t, err)
			}
			assert.Zero(t, s.calls)
		})
	}
}

func TestFilterOffsetMaterialize(t *testing.T) {
	s := storage.NewMemoryStore()
	for i := 0; i < 10; i++ {
		load(t, s, triples.T(fmt.Sprintf("u%d", i), "age", int64(10+i*5)))
	}
	adult := func(sol query.Solution) bool {
		v, _ := sol.Get("age")
		return v.(int64) >= 18
	}
	res, err := NewExecutor(s, Config{}).Query(context.Background(),
		[]query.Pattern{query.P("?who", "age", "?age")},
		Options{
			Filter:       adult,
			Offset:       2,
			Limit:        3,
			Materialized: query.Template{"name": query.V("who"), "kind": query.C("adult")},
		})
	require.NoError(t, err)
	sols, err := res.All()
	require.NoError(t, err)
	require.Len(t, sols, 3)
	// POS order: ages ascending; 20 and 25 are skipped by the offset.
	var names []triples.Value
	for _, sol := range sols {
		v, ok := sol.Get("name")
		require.True(t, ok)
		names = append(names, v)
		kind, _ := sol.Get("kind")
		assert.Equal(t, "adult", kind)
		_, hasAge := sol.Get("age")
		assert.False(t, hasAge)
	}
	assert.Equal(t, []triples.Value{"u4", "u5", "u6"}, names)
}

func TestInitialSolution(t *testing.T) {
	for _, join := range strategies() {
		t.Run(join.String(), func(t *testing.T) {
			s := exampleStore(t)
			initial, err := query.NewSolution(map[string]interface{}{"x": "bob"})
			require.NoError(t, err)
			res, err := NewExecutor(s, Config{}).Query(context.Background(),
				[]query.Pattern{query.P("alice", "knows", "?x"), query.P("?x", "knows", "?y")},
				Options{JoinAlgorithm: join, InitialSolution: initial})
			require.NoError(t, err)
			sols, err := res.All()
			require.NoError(t, err)
			require.Len(t, sols, 1)
			assert.Equal(t, map[string]triples.Value{"x": "bob", "y": "carol"}, sols[0].Map())
		})
	}
}

func TestBindingConflictYieldsNothing(t *testing.T) {
	s := exampleStore(t)
	res, err := NewExecutor(s, Config{}).Query(context.Background(),
		[]query.Pattern{query.P("?x", "knows", "?x")}, Options{})
	require.NoError(t, err)
	sols, err := res.All()
	require.NoError(t, err)
	assert.Empty(t, sols)
}

func TestStoreFailureTerminatesQuery(t *testing.T) {
	for _, join := range strategies() {
		t.Run(join.String(), func(t *testing.T) {
			mem := storage.NewMemoryStore()
			var ts []triples.Triple
			for i := 0; i < 50; i++ {
				ts = append(ts, triples.T(fmt.Sprintf("n%02d", i), "next", fmt.Sprintf("n%02d", i+1)))
			}
			load(t, mem, ts...)
			s := storage.NewInstrumented(&failingStore{Store: mem, failAfter: 20}, nil)
			c := annotations.NewCollector(nil)

			res, err := NewExecutor(s, Config{}).Query(context.Background(),
				[]query.Pattern{query.P("?a", "next", "?b"), query.P("?b", "next", "?c")},
				Options{JoinAlgorithm: join, Annotations: c})
			require.NoError(t, err)
			sols, err := res.All()
			require.Error(t, err)
			assert.Nil(t, sols, "no partial results")
			assert.True(t, terr.IsStoreFailure(err))
			assert.Zero(t, s.OpenIterators())
			assert.Len(t, c.Named(annotations.ErrorBackend), 1)
			complete := c.Named(annotations.QueryComplete)
			require.Len(t, complete, 1)
			assert.Contains(t, complete[0].Data, "error")
		})
	}
}

func TestSizeFailureFailsQuery(t *testing.T) {
	s := &failingStore{Store: storage.NewMemoryStore(), failSize: true}
	_, err := NewExecutor(s, Config{}).Query(context.Background(),
		[]query.Pattern{query.P("?a", "next", "?b")}, Options{})
	require.Error(t, err)
	assert.True(t, terr.IsStoreFailure(err))
}

func TestCallerCancellation(t *testing.T) {
	s := exampleStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	res, err := NewExecutor(s, Config{BufferSize: 1}).Query(ctx,
		[]query.Pattern{query.P("?a", "knows", "?b")}, Options{})
	require.NoError(t, err)
	cancel()
	for res.Next() {
	}
	assert.ErrorIs(t, res.Err(), context.Canceled)
	assert.Zero(t, s.OpenIterators())
}

func TestSortMergeReplaysDuplicatePrefixes(t *testing.T) {
	s := storage.NewMemoryStore()
	load(t, s,
		triples.T("a1", "p", "x"),
		triples.T("a2", "p", "x"),
		triples.T("a3", "p", "y"),
		triples.T("x", "q", "c1"),
		triples.T("x", "q", "c2"),
		triples.T("y", "q", "c3"),
		triples.T("z", "q", "c4"),
	)
	c := annotations.NewCollector(nil)
	res, err := NewExecutor(s, Config{}).Query(context.Background(),
		[]query.Pattern{query.P("?a", "p", "?b"), query.P("?b", "q", "?c")},
		Options{Annotations: c})
	require.NoError(t, err)
	sols, err := res.All()
	require.NoError(t, err)
	assert.Len(t, sols, 5)
	assert.Len(t, c.Named(annotations.JoinMerge), 1)
	assert.Len(t, c.Named(annotations.JoinMergeAdvance), 3)
}

func TestSortMergeDetectsUnorderedInput(t *testing.T) {
	s := storage.NewMemoryStore()
	load(t, s,
		triples.T("a1", "p", "b2"),
		triples.T("a2", "p", "b1"),
		triples.T("b1", "q", "c"),
		triples.T("b2", "q", "c"),
	)
	// The head scans PSO, so it emits ?b in the order b2, b1.
	plan := &planner.Plan{Steps: []planner.Step{
		{Pattern: query.P("?a", "p", "?b"), Index: triples.PSO, Strategy: planner.NestedLoop},
		{Pattern: query.P("?b", "q", "?c"), Index: triples.PSO, Strategy: planner.SortMerge, MergeVars: []string{"b"}},
	}}
	inst := storage.NewInstrumented(s, nil)
	res, err := NewExecutor(inst, Config{}).Execute(context.Background(), plan, Options{})
	require.NoError(t, err)
	_, err = res.All()
	require.Error(t, err)
	assert.Equal(t, terr.CodeExecutorMergeOrderViolation, terr.CodeOf(err))
	assert.Zero(t, inst.OpenIterators())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewQuery(metrics.Registry{R: reg})
	s := exampleStore(t)
	res, err := NewExecutor(s, Config{Metrics: m}).Query(context.Background(),
		[]query.Pattern{query.P("alice", "knows", "?x"), query.P("?x", "knows", "?y")}, Options{})
	require.NoError(t, err)
	_, err = res.All()
	require.NoError(t, err)

	samples, err := metrics.Snapshot(reg)
	require.NoError(t, err)
	got := map[string]float64{}
	for _, smp := range samples {
		got[smp.Name+"|"+smp.Label] = smp.Value
	}
	assert.Equal(t, 1.0, got["triples_query_queries_total|"])
	assert.Equal(t, 1.0, got["triples_query_solutions_total|"])
	assert.Equal(t, 1.0, got["triples_query_join_stages_total|strategy=sortMerge"])
	assert.Equal(t, 1.0, got["triples_query_join_stages_total|strategy=nestedLoop"])
	assert.Equal(t, 1.0, got["triples_query_duration_seconds|"])
}

// Join equivalence: nested-loop and sort-merge plans return the same
// solutions as a brute-force evaluation, and every sort-merge stage sees its
// merge prefixes in non-decreasing order.
func TestJoinEquivalenceProperty(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStore() },
		"badger": func(t *testing.T) storage.Store {
			b, err := storage.NewBadgerStoreWithOptions(storage.BadgerOptions{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			checkJoinEquivalence(t, open)
		})
	}
}

// checkJoinEquivalence runs random chains of patterns with both join
// operators and compares them with a brute-force evaluation.
func checkJoinEquivalence(t *testing.T, open func(t *testing.T) storage.Store) {
	rng := rand.New(rand.NewSource(42))
	nodes := []triples.Value{"n0", "n1", "n\x00", "n\x01x", "n\x01", int64(1), int64(-2), 2.5, true}
	preds := []triples.Value{"p", "q", "r\x01"}
	vars := []string{"a", "b", "c", "d"}

	for round := 0; round < 15; round++ {
		s := storage.NewInstrumented(open(t), nil)
		var all []triples.Triple
		seen := map[string]bool{}
		for i := 0; i < 60; i++ {
			tr := triples.T(nodes[rng.Intn(6)], preds[rng.Intn(len(preds))], nodes[rng.Intn(len(nodes))])
			value, err := codec.EncodeTriple(tr)
			require.NoError(t, err)
			if seen[string(value)] {
				continue
			}
			seen[string(value)] = true
			all = append(all, tr)
		}
		load(t, s, all...)

		term := func(pool []triples.Value) query.Term {
			switch rng.Intn(6) {
			case 0, 1:
				return query.C(pool[rng.Intn(len(pool))])
			case 2:
				return query.Blank{}
			default:
				return query.V(vars[rng.Intn(len(vars))])
			}
		}
		for q := 0; q < 10; q++ {
			patterns := make([]query.Pattern, 1+rng.Intn(5))
			for i := range patterns {
				patterns[i] = query.Pattern{Subject: term(nodes), Predicate: term(preds), Object: term(nodes)}
			}
			initial := query.EmptySolution()
			if rng.Intn(3) == 0 {
				var err error
				initial, err = initial.With(vars[rng.Intn(len(vars))], nodes[rng.Intn(len(nodes))])
				require.NoError(t, err)
			}
			want := bruteForce(all, patterns, initial)

			for _, join := range strategies() {
				c := annotations.NewCollector(nil)
				res, err := NewExecutor(s, Config{BufferSize: 1 + rng.Intn(4)}).Query(context.Background(), patterns,
					Options{JoinAlgorithm: join, Annotations: c, InitialSolution: initial})
				require.NoError(t, err)
				sols, err := res.All()
				require.NoError(t, err, "round %d query %v initial %v join %s", round, patterns, initial, join)
				assert.Equal(t, want, canonical(sols), "round %d query %v initial %v join %s", round, patterns, initial, join)
				assertMergeMonotonic(t, c)
			}
			assert.Zero(t, s.OpenIterators())
		}
	}
}

func assertMergeMonotonic(t *testing.T, c *annotations.Collector) {
	t.Helper()
	last := map[string][]byte{}
	counts := map[string]int{}
	for _, e := range c.Named(annotations.JoinMerge) {
		counts[e.Data["pattern"].(string)]++
	}
	for _, e := range c.Named(annotations.JoinMergeAdvance) {
		pat := e.Data["pattern"].(string)
		if counts[pat] > 1 {
			continue // two stages share a pattern text; their events interleave
		}
		prefix := e.Data["prefix"].([]byte)
		if prev, ok := last[pat]; ok {
			assert.LessOrEqual(t, bytes.Compare(prev, prefix), 0, "merge cursor moved backwards on %s", pat)
		}
		last[pat] = prefix
	}
}

func bruteForce(all []triples.Triple, patterns []query.Pattern, s query.Solution) []string {
	if len(patterns) == 0 {
		return []string{s.String()}
	}
	var out []string
	for _, tr := range all {
		if next, ok := query.Match(s, patterns[0], tr); ok {
			out = append(out, bruteForce(all, patterns[1:], next)...)
		}
	}
	sort.Strings(out)
	return out
}

func canonical(sols []query.Solution) []string {
	var out []string
	for _, s := range sols {
		out = append(out, s.String())
	}
	sort.Strings(out)
	return out
}

// countingStore counts every call that reaches the store.
type countingStore struct {
	storage.Store
	calls int
}

func (s *countingStore) Scan(ctx context.Context, start, end []byte, reverse bool) (storage.Iterator, error) {
	s.calls++
	return s.Store.Scan(ctx, start, end, reverse)
}

func (s *countingStore) ApproximateSize(ctx context.Context, start, end []byte) (int64, error) {
	s.calls++
	return s.Store.ApproximateSize(ctx, start, end)
}

// failingStore injects I/O failures.
type failingStore struct {
	storage.Store
	failAfter int // rows read across all iterators before reads fail; 0 disables
	failSize  bool
	read      atomic.Int64
}

func (s *failingStore) Scan(ctx context.Context, start, end []byte, reverse bool) (storage.Iterator, error) {
	it, err := s.Store.Scan(ctx, start, end, reverse)
	if err != nil {
		return nil, err
	}
	return &failingIterator{Iterator: it, s: s}, nil
}

func (s *failingStore) ApproximateSize(ctx context.Context, start, end []byte) (int64, error) {
	if s.failSize {
		return 0, terr.Wrap(errors.New("injected"), terr.CodeStoreIOFailure, "size failed")
	}
	return s.Store.ApproximateSize(ctx, start, end)
}

type failingIterator struct {
	storage.Iterator
	s   *failingStore
	err error
}

func (i *failingIterator) Next() bool {
	if i.s.failAfter > 0 && i.s.read.Load() >= int64(i.s.failAfter) {
		i.err = terr.Wrap(errors.New("injected"), terr.CodeStoreIOFailure, "read failed")
		return false
	}
	if !i.Iterator.Next() {
		return false
	}
	i.s.read.Add(1)
	return true
}

func (i *failingIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.Iterator.Err()
}
