package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := Registry{R: reg}
	s := NewStore(r)
	q := NewQuery(r)

	s.Scans.Add(3)
	s.OpenIterators.Inc()
	q.Joins.WithLabelValues("sortMerge").Inc()
	q.Latency.Observe(0.01)

	samples, err := Snapshot(reg)
	require.NoError(t, err)
	byName := map[string]Sample{}
	for _, smp := range samples {
		byName[smp.Name] = smp
	}
	assert.Equal(t, 3.0, byName["triples_store_scans_total"].Value)
	assert.Equal(t, 1.0, byName["triples_store_open_iterators"].Value)
	assert.Equal(t, "strategy=sortMerge", byName["triples_query_join_stages_total"].Label)
	assert.Equal(t, 1.0, byName["triples_query_duration_seconds"].Value)

	for i := 1; i < len(samples); i++ {
		assert.LessOrEqual(t, samples[i-1].Name, samples[i].Name)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	r := Registry{R: prometheus.NewRegistry()}
	NewStore(r)
	assert.Panics(t, func() { NewStore(r) })
}
