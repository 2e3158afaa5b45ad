package storage

import (
	"context"
	"sync/atomic"

	"github.com/wbrown/janus-triples/triples/metrics"
)

// Instrumented wraps a Store and counts its activity. The counters are kept
// locally for callers that need exact values (tests checking that every
// cursor was closed) and are mirrored into Prometheus metrics when a metrics
// set is supplied.
type Instrumented struct {
	Store
	m *metrics.Store

	scans   atomic.Int64
	open    atomic.Int64
	rows    atomic.Int64
	batches atomic.Int64
}

// NewInstrumented wraps s. m may be nil.
func NewInstrumented(s Store, m *metrics.Store) *Instrumented {
	return &Instrumented{Store: s, m: m}
}

// Scan opens a counted iterator
func (s *Instrumented) Scan(ctx context.Context, start, end []byte, reverse bool) (Iterator, error) {
	it, err := s.Store.Scan(ctx, start, end, reverse)
	if err != nil {
		s.failed()
		return nil, err
	}
	s.scans.Add(1)
	s.open.Add(1)
	if s.m != nil {
		s.m.Scans.Inc()
		s.m.OpenIterators.Inc()
	}
	return &countingIterator{Iterator: it, s: s}, nil
}

// ApproximateSize counts size requests
func (s *Instrumented) ApproximateSize(ctx context.Context, start, end []byte) (int64, error) {
	if s.m != nil {
		s.m.SizeEstimates.Inc()
	}
	n, err := s.Store.ApproximateSize(ctx, start, end)
	if err != nil {
		s.failed()
	}
	return n, err
}

// CountKeys forwards to the wrapped store when it can count keys.
func (s *Instrumented) CountKeys(ctx context.Context, start, end []byte) (int64, error) {
	kc, ok := s.Store.(KeyCounter)
	if !ok {
		return 0, errSizeUnsupported()
	}
	return kc.CountKeys(ctx, start, end)
}

// Batch counts batches and their operations
func (s *Instrumented) Batch(ctx context.Context, ops []Op) error {
	if err := s.Store.Batch(ctx, ops); err != nil {
		s.failed()
		return err
	}
	s.batches.Add(1)
	if s.m != nil {
		s.m.Batches.Inc()
		s.m.BatchOps.Add(float64(len(ops)))
	}
	return nil
}

// ScansOpened returns the number of successful Scan calls
func (s *Instrumented) ScansOpened() int64 { return s.scans.Load() }

// OpenIterators returns the number of iterators not yet closed
func (s *Instrumented) OpenIterators() int64 { return s.open.Load() }

// RowsRead returns the number of rows returned by all iterators
func (s *Instrumented) RowsRead() int64 { return s.rows.Load() }

// Batches returns the number of successful batches
func (s *Instrumented) Batches() int64 { return s.batches.Load() }

func (s *Instrumented) failed() {
	if s.m != nil {
		s.m.Errors.Inc()
	}
}

type countingIterator struct {
	Iterator
	s      *Instrumented
	closed bool
}

func (i *countingIterator) Next() bool {
	if !i.Iterator.Next() {
		return false
	}
	i.s.rows.Add(1)
	if i.s.m != nil {
		i.s.m.Rows.Inc()
	}
	return true
}

func (i *countingIterator) Close() error {
	if !i.closed {
		i.closed = true
		i.s.open.Add(-1)
		if i.s.m != nil {
			i.s.m.OpenIterators.Dec()
		}
	}
	return i.Iterator.Close()
}
