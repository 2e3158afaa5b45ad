// Package planner orders the patterns of a conjunctive query by estimated
// cost and chooses an index and join operator for each of them.
package planner

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/annotations"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/index"
	"github.com/wbrown/janus-triples/triples/query"
)

// Estimator estimates the bytes stored in a key range. storage.Store
// satisfies it.
type Estimator interface {
	ApproximateSize(ctx context.Context, start, end []byte) (int64, error)
}

// Options configures a Planner
type Options struct {
	Logger      logrus.FieldLogger
	Annotations *annotations.Collector
	QueryID     string
}

// Planner builds query plans against one store
type Planner struct {
	est     Estimator
	options Options
}

// NewPlanner creates a planner that estimates costs with est
func NewPlanner(est Estimator, opts Options) *Planner {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Planner{est: est, options: opts}
}

// Plan validates the patterns, substitutes the initial solution into them,
// orders them by estimated cost and assigns indexes and join operators.
// An empty pattern list yields an empty plan without touching the store.
func (p *Planner) Plan(ctx context.Context, patterns []query.Pattern, initial query.Solution, pref JoinStrategy) (*Plan, error) {
	plan := &Plan{Initial: initial, Preference: pref}
	for i, pat := range patterns {
		if err := pat.Validate(); err != nil {
			return nil, terr.Wrapf(err, terr.CodeQueryPatternInvalid, "pattern %d", i)
		}
	}
	if len(patterns) == 0 {
		return plan, nil
	}

	steps := make([]Step, len(patterns))
	for i, pat := range patterns {
		narrowed := pat.Substitute(initial)
		steps[i] = Step{
			Pattern:  narrowed,
			Position: i,
			Index:    index.ChooseIndex(narrowed, index.NoPreference),
			Strategy: NestedLoop,
		}
	}
	if err := p.estimate(ctx, steps); err != nil {
		return nil, err
	}

	// Equal costs keep their written order so plans are reproducible.
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Estimate < steps[j].Estimate })

	if pref == SortMerge {
		pairMerges(steps)
	}
	plan.Steps = steps
	plan.OrderVars = index.VariableOrder(steps[0].Pattern, steps[0].Index)

	p.options.Logger.WithFields(logrus.Fields{
		"query":    p.options.QueryID,
		"patterns": len(steps),
		"join":     pref.String(),
	}).Debug("query planned")
	return plan, nil
}

// estimate fills in step costs. If the store cannot estimate one range the
// whole query falls back to counting unbound fields so that costs stay
// comparable.
func (p *Planner) estimate(ctx context.Context, steps []Step) error {
	// Every range is built before the first store call so that an
	// unencodable constant fails the query without touching the store.
	ranges := make([]index.Range, len(steps))
	for i := range steps {
		r, err := index.BuildRange(steps[i].Pattern, steps[i].Index)
		if err != nil {
			return err
		}
		ranges[i] = r
	}
	for i, r := range ranges {
		start := time.Now()
		size, err := p.est.ApproximateSize(ctx, r.Start, r.End)
		if terr.HasCode(err, terr.CodeStoreSizeUnsupported) {
			p.options.Logger.WithError(err).Debug("size estimate unavailable, counting unbound fields")
			for j := range steps {
				steps[j].Estimate = int64(3 - len(steps[j].Pattern.BoundFields()))
				steps[j].Estimated = false
			}
			return nil
		}
		if err != nil {
			return err
		}
		steps[i].Estimate = size
		steps[i].Estimated = true

		if p.options.Annotations.Enabled() {
			p.options.Annotations.AddTiming(annotations.PatternIndexSelection, p.options.QueryID, start,
				map[string]interface{}{
					"pattern":  steps[i].Pattern.String(),
					"index":    steps[i].Index.String(),
					"estimate": size,
				})
		}
	}
	return nil
}

// pairMerges turns nested-loop steps into sort-merge steps where the input
// order allows it.
//
// The first step scans its index once, so it emits solutions sorted by the
// variables of its index key (the order key). Every later step emits its
// output in input order, so that order holds for the whole pipeline. A step
// can merge when it shares a variable with the step before it and its
// variables cover a non-empty prefix K of the order key: scanning an index
// that starts with the step's constants followed by K then yields rows in
// the same order as the incoming merge keys.
//
// The first step's index is chosen so that its order key starts with the
// variables it shares with the second step, in name order.
func pairMerges(steps []Step) {
	if len(steps) < 2 {
		return
	}
	head := &steps[0]
	shared := query.SharedVariables(head.Pattern, steps[1].Pattern)
	if len(shared) > 0 {
		if idx, ok := realize(head.Pattern, shared); ok {
			head.Index = idx
		}
	}
	orderKey := index.VariableOrder(head.Pattern, head.Index)

	for i := 1; i < len(steps); i++ {
		s := &steps[i]
		if len(query.SharedVariables(steps[i-1].Pattern, s.Pattern)) == 0 {
			continue
		}
		k := coveredPrefix(orderKey, s.Pattern)
		if len(k) == 0 {
			continue
		}
		idx, ok := realize(s.Pattern, k)
		if !ok {
			continue
		}
		s.Index = idx
		s.Strategy = SortMerge
		s.MergeVars = k
	}
}

// realize finds an index whose key is p's constants followed by the fields
// of vars in order.
func realize(p query.Pattern, vars []string) (triples.Index, bool) {
	order, ok := index.Ordering(p, vars)
	if !ok {
		return 0, false
	}
	return index.IndexForOrder(order[:len(p.BoundFields())+len(vars)])
}

// coveredPrefix returns the longest prefix of orderKey whose variables all
// occur in p.
func coveredPrefix(orderKey []string, p query.Pattern) []string {
	n := 0
	for _, name := range orderKey {
		if _, ok := p.FieldOf(name); !ok {
			break
		}
		n++
	}
	return append([]string(nil), orderKey[:n]...)
}
