package annotations

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrentAdd(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	c := NewCollector(func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.AddTiming(JoinMergeAdvance, "q", time.Now(), map[string]interface{}{"n": j})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, c.Events(), 400)
	assert.Len(t, c.Named(JoinMergeAdvance), 400)
	assert.Equal(t, 400, seen)

	c.Reset()
	assert.Empty(t, c.Events())
}

func TestNilAndStreamingCollectors(t *testing.T) {
	var nilCollector *Collector
	assert.False(t, nilCollector.Enabled())
	nilCollector.Add(Event{Name: QueryInvoked})
	assert.Nil(t, nilCollector.Events())

	got := 0
	s := NewStreamingCollector(func(Event) { got++ })
	s.Add(Event{Name: QueryInvoked})
	assert.Equal(t, 1, got)
	assert.Empty(t, s.Events())
}

func TestOutputFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewOutputFormatter(&buf)

	f.Handle(Event{Name: QueryInvoked, QueryID: "0123456789abcdef", Latency: 20 * time.Microsecond,
		Data: map[string]interface{}{"query": "[alice knows ?x]   [?x knows ?y]"}})
	f.Handle(Event{Name: JoinMerge, Latency: 3 * time.Millisecond,
		Data: map[string]interface{}{"pattern": "[?x knows ?y]", "input.count": 2, "output.count": 1, "rows.scanned": int64(3)}})
	f.Handle(Event{Name: JoinMergeAdvance, Data: map[string]interface{}{}})
	f.Handle(Event{Name: QueryComplete, Data: map[string]interface{}{"error": errors.New("boom")}})

	out := buf.String()
	assert.Contains(t, out, "[20µs] Query 01234567: [alice knows ?x] [?x knows ?y]")
	assert.Contains(t, out, "[3.0ms] SortMerge([?x knows ?y]) 2 inputs → 1 solutions (3 rows)")
	assert.Contains(t, out, "Query failed: boom")
	require.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}
