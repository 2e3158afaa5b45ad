// Package executor runs query plans as a pipeline of streaming join stages.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wbrown/janus-triples/triples/annotations"
	"github.com/wbrown/janus-triples/triples/metrics"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
	"github.com/wbrown/janus-triples/triples/storage"
)

// Config holds the executor-wide settings
type Config struct {
	BufferSize int // channel capacity between stages; 0 uses DefaultBufferSize
	Logger     logrus.FieldLogger
	Metrics    *metrics.Query
}

// Executor runs conjunctive queries against a store. It holds no per-query
// state, so concurrent queries need no coordination.
type Executor struct {
	store  storage.Store
	config Config
}

// NewExecutor creates an executor over store
func NewExecutor(store storage.Store, cfg Config) *Executor {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Executor{store: store, config: cfg}
}

// Explain plans the query without running it.
func (e *Executor) Explain(ctx context.Context, patterns []query.Pattern, opts Options) (*planner.Plan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	pl := planner.NewPlanner(e.store, planner.Options{Logger: e.config.Logger})
	return pl.Plan(ctx, patterns, opts.InitialSolution, opts.JoinAlgorithm)
}

// Query plans and runs a conjunctive query. Malformed patterns and options
// are rejected before the store is touched.
func (e *Executor) Query(ctx context.Context, patterns []query.Pattern, opts Options) (*Results, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	start := time.Now()
	if opts.Annotations.Enabled() {
		opts.Annotations.Add(annotations.Event{Name: annotations.QueryInvoked, QueryID: id, Start: start, End: start,
			Data: map[string]interface{}{"query": describe(patterns)}})
	}

	pl := planner.NewPlanner(e.store, planner.Options{
		Logger:      e.config.Logger,
		Annotations: opts.Annotations,
		QueryID:     id,
	})
	plan, err := pl.Plan(ctx, patterns, opts.InitialSolution, opts.JoinAlgorithm)
	if err != nil {
		if e.config.Metrics != nil {
			e.config.Metrics.Queries.Inc()
			e.config.Metrics.Failures.Inc()
		}
		return nil, err
	}
	if opts.Annotations.Enabled() {
		opts.Annotations.AddTiming(annotations.QueryPlanCreated, id, start, map[string]interface{}{"plan": plan.String()})
	}
	return e.execute(ctx, id, plan, opts), nil
}

// Execute runs a plan produced by Explain.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, opts Options) (*Results, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return e.execute(ctx, uuid.NewString(), plan, opts), nil
}

func (e *Executor) execute(ctx context.Context, id string, plan *planner.Plan, opts Options) *Results {
	buffer := e.config.BufferSize
	if opts.BufferSize > 0 {
		buffer = opts.BufferSize
	}
	p := newPipeline(ctx, id, e.store, buffer)
	p.log = e.config.Logger
	p.ann = opts.Annotations
	p.m = e.config.Metrics
	if p.m != nil {
		p.m.Queries.Inc()
	}

	if len(plan.Steps) == 0 {
		return &Results{p: p}
	}

	stream := seed(plan.Initial)
	for _, step := range plan.Steps {
		if p.m != nil {
			p.m.Joins.WithLabelValues(step.Strategy.String()).Inc()
		}
		switch step.Strategy {
		case planner.SortMerge:
			stream = p.sortMerge(stream, step)
		default:
			stream = p.nestedLoop(stream, step)
		}
	}
	if opts.Filter != nil {
		stream = p.filter(stream, opts.Filter)
	}
	if opts.Offset > 0 {
		stream = p.offset(stream, opts.Offset)
	}
	if opts.Limit > 0 {
		stream = p.limit(stream, opts.Limit)
	}
	if opts.Materialized != nil {
		stream = p.materialize(stream, opts.Materialized)
	}
	return &Results{p: p, out: stream}
}

func describe(patterns []query.Pattern) string {
	parts := make([]string, len(patterns))
	for i, pat := range patterns {
		parts[i] = pat.String()
	}
	return strings.Join(parts, " ")
}
