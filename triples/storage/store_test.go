package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/metrics"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"badger": func(t *testing.T) Store {
			logger := logrus.New()
			logger.SetLevel(logrus.WarnLevel)
			s, err := NewBadgerStoreWithOptions(BadgerOptions{Path: t.TempDir(), Logger: logger})
			require.NoError(t, err)
			return s
		},
		"badger-inmemory": func(t *testing.T) Store {
			s, err := NewBadgerStoreWithOptions(BadgerOptions{InMemory: true})
			require.NoError(t, err)
			return s
		},
	}
}

func fill(t *testing.T, s Store, n int) {
	t.Helper()
	var ops []Op
	for i := 0; i < n; i++ {
		ops = append(ops, Op{Type: Put, Key: []byte(fmt.Sprintf("k%03d", i)), Value: []byte(fmt.Sprintf("v%d", i))})
	}
	require.NoError(t, s.Batch(context.Background(), ops))
}

func keys(t *testing.T, it Iterator) []string {
	t.Helper()
	defer it.Close()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()))
	}
	require.NoError(t, it.Err())
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fill(t, s, 200)

			t.Run("ascending range", func(t *testing.T) {
				it, err := s.Scan(ctx, []byte("k010"), []byte("k013"), false)
				require.NoError(t, err)
				assert.Equal(t, []string{"k010", "k011", "k012"}, keys(t, it))
			})

			t.Run("descending range", func(t *testing.T) {
				it, err := s.Scan(ctx, []byte("k010"), []byte("k013"), true)
				require.NoError(t, err)
				assert.Equal(t, []string{"k012", "k011", "k010"}, keys(t, it))
			})

			t.Run("unbounded crosses batch boundaries", func(t *testing.T) {
				it, err := s.Scan(ctx, nil, nil, false)
				require.NoError(t, err)
				got := keys(t, it)
				require.Len(t, got, 200)
				assert.Equal(t, "k000", got[0])
				assert.Equal(t, "k199", got[199])

				it, err = s.Scan(ctx, nil, nil, true)
				require.NoError(t, err)
				got = keys(t, it)
				require.Len(t, got, 200)
				assert.Equal(t, "k199", got[0])
			})

			t.Run("values", func(t *testing.T) {
				it, err := s.Scan(ctx, []byte("k007"), []byte("k008"), false)
				require.NoError(t, err)
				defer it.Close()
				require.True(t, it.Next())
				assert.Equal(t, "v7", string(it.Value()))
				assert.False(t, it.Next())
			})

			t.Run("seek forward", func(t *testing.T) {
				it, err := s.Scan(ctx, []byte("k000"), []byte("k100"), false)
				require.NoError(t, err)
				defer it.Close()
				require.True(t, it.Next())
				assert.Equal(t, "k000", string(it.Key()))
				it.Seek([]byte("k0505"))
				require.True(t, it.Next())
				assert.Equal(t, "k051", string(it.Key()))
				require.True(t, it.Next())
				assert.Equal(t, "k052", string(it.Key()))
				it.Seek([]byte("k200"))
				assert.False(t, it.Next())
			})

			t.Run("batch delete is atomic and idempotent", func(t *testing.T) {
				ops := []Op{
					{Type: Delete, Key: []byte("k001")},
					{Type: Delete, Key: []byte("nope")},
					{Type: Put, Key: []byte("k001x"), Value: []byte("x")},
				}
				require.NoError(t, s.Batch(ctx, ops))
				it, err := s.Scan(ctx, []byte("k001"), []byte("k002"), false)
				require.NoError(t, err)
				assert.Equal(t, []string{"k001x"}, keys(t, it))
			})

			t.Run("approximate size grows with range", func(t *testing.T) {
				small, err := s.ApproximateSize(ctx, []byte("k000"), []byte("k010"))
				require.NoError(t, err)
				large, err := s.ApproximateSize(ctx, []byte("k000"), []byte("k100"))
				require.NoError(t, err)
				assert.Positive(t, small)
				assert.Greater(t, large, small)

				empty, err := s.ApproximateSize(ctx, []byte("z"), nil)
				require.NoError(t, err)
				assert.Zero(t, empty)
			})

			t.Run("count keys", func(t *testing.T) {
				kc, ok := s.(KeyCounter)
				require.True(t, ok)
				n, err := kc.CountKeys(ctx, []byte("k100"), []byte("k110"))
				require.NoError(t, err)
				assert.Equal(t, int64(10), n)
			})

			t.Run("cancelled context stops iteration", func(t *testing.T) {
				cctx, cancel := context.WithCancel(ctx)
				it, err := s.Scan(cctx, nil, nil, false)
				require.NoError(t, err)
				defer it.Close()
				require.True(t, it.Next())
				cancel()
				assert.False(t, it.Next())
				assert.ErrorIs(t, it.Err(), context.Canceled)
			})
		})
	}
}

func TestScanIsolatedFromConcurrentBatch(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fill(t, s, 10)

			it, err := s.Scan(ctx, nil, nil, false)
			require.NoError(t, err)
			require.NoError(t, s.Batch(ctx, []Op{{Type: Put, Key: []byte("k005a"), Value: []byte("new")}}))
			assert.Len(t, keys(t, it), 10)
		})
	}
}

func TestConcurrentReadersSeeWholeBatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			var ops []Op
			for j := 0; j < 6; j++ {
				ops = append(ops, Op{Type: Put, Key: []byte(fmt.Sprintf("%d/%04d", j, i)), Value: []byte("x")})
			}
			assert.NoError(t, s.Batch(ctx, ops))
		}
	}()
	for i := 0; i < 50; i++ {
		n, err := s.CountKeys(ctx, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, n%6, "reader observed a partial batch")
	}
	wg.Wait()
	assert.Equal(t, 1200, s.Len())
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			require.NoError(t, s.Close())
			_, err := s.Scan(ctx, nil, nil, false)
			assert.True(t, terr.HasCode(err, terr.CodeStoreClosed))
			err = s.Batch(ctx, []Op{{Type: Put, Key: []byte("a")}})
			assert.True(t, terr.HasCode(err, terr.CodeStoreClosed))
		})
	}
}

func TestInstrumentedCountsIterators(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewStore(metrics.Registry{R: reg})
	s := NewInstrumented(NewMemoryStore(), m)
	fill(t, s, 5)
	assert.Equal(t, int64(1), s.Batches())

	it, err := s.Scan(ctx, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.OpenIterators())
	it.Next()
	it.Next()
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.Equal(t, int64(0), s.OpenIterators())
	assert.Equal(t, int64(1), s.ScansOpened())
	assert.Equal(t, int64(2), s.RowsRead())

	samples, err := metrics.Snapshot(reg)
	require.NoError(t, err)
	values := map[string]float64{}
	for _, smp := range samples {
		values[smp.Name] = smp.Value
	}
	assert.Equal(t, 5.0, values["triples_store_batch_ops_total"])
	assert.Equal(t, 2.0, values["triples_store_rows_read_total"])
	assert.Equal(t, 0.0, values["triples_store_open_iterators"])

	n, err := s.CountKeys(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
