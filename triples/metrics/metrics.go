// Package metrics aids in defining Prometheus metrics and holds the metrics
// exported by the triple store.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "triples"

// Registry encapsulates metrics creation and registration
type Registry struct {
	R prometheus.Registerer
}

// NewCounter returns a new created and registered Prometheus Counter
func (mr Registry) NewCounter(c prometheus.CounterOpts) prometheus.Counter {
	pm := prometheus.NewCounter(c)
	mr.R.MustRegister(pm)
	return pm
}

// NewCounterVec returns a new created and registered Prometheus CounterVec
func (mr Registry) NewCounterVec(c prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	pm := prometheus.NewCounterVec(c, labels)
	mr.R.MustRegister(pm)
	return pm
}

// NewGauge returns a new created and registered Prometheus Gauge
func (mr Registry) NewGauge(g prometheus.GaugeOpts) prometheus.Gauge {
	pm := prometheus.NewGauge(g)
	mr.R.MustRegister(pm)
	return pm
}

// NewHistogram returns a new and registered Prometheus Histogram
func (mr Registry) NewHistogram(h prometheus.HistogramOpts) prometheus.Histogram {
	pm := prometheus.NewHistogram(h)
	mr.R.MustRegister(pm)
	return pm
}

// Store holds the metrics of an instrumented store.
type Store struct {
	Scans         prometheus.Counter
	Rows          prometheus.Counter
	Batches       prometheus.Counter
	BatchOps      prometheus.Counter
	SizeEstimates prometheus.Counter
	Errors        prometheus.Counter
	OpenIterators prometheus.Gauge
}

// NewStore registers the store metrics with r.
func NewStore(r Registry) *Store {
	return &Store{
		Scans: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "scans_total",
			Help: "Number of range scans opened.",
		}),
		Rows: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "rows_read_total",
			Help: "Number of key/value pairs returned by scans.",
		}),
		Batches: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "batches_total",
			Help: "Number of atomic batch writes.",
		}),
		BatchOps: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "batch_ops_total",
			Help: "Number of put and delete operations written in batches.",
		}),
		SizeEstimates: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "size_estimates_total",
			Help: "Number of approximate size requests.",
		}),
		Errors: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "errors_total",
			Help: "Number of store operations that failed.",
		}),
		OpenIterators: r.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "open_iterators",
			Help: "Number of scan iterators not yet closed.",
		}),
	}
}

// Query holds the metrics of the query executor.
type Query struct {
	Queries  prometheus.Counter
	Failures prometheus.Counter
	Rows     prometheus.Counter
	Joins    *prometheus.CounterVec
	Latency  prometheus.Histogram
}

// NewQuery registers the executor metrics with r.
func NewQuery(r Registry) *Query {
	return &Query{
		Queries: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "queries_total",
			Help: "Number of queries started.",
		}),
		Failures: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "failures_total",
			Help: "Number of queries that ended with an error.",
		}),
		Rows: r.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "solutions_total",
			Help: "Number of solutions returned to callers.",
		}),
		Joins: r.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "join_stages_total",
			Help: "Number of join stages run, by strategy.",
		}, []string{"strategy"}),
		Latency: r.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "duration_seconds",
			Help:    "Wall time from query start until its results are closed.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

// Sample is one gathered metric value.
type Sample struct {
	Name  string
	Label string
	Value float64
}

// Snapshot gathers counters and gauges from g, sorted by name. Histograms
// report their sample count.
func Snapshot(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			s := Sample{Name: mf.GetName()}
			for _, lp := range m.GetLabel() {
				s.Label = lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				s.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				s.Value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				s.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}
