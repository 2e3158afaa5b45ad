package executor

import (
	"bytes"
	"context"
	"time"

	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/annotations"
	"github.com/wbrown/janus-triples/triples/codec"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/index"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
	"github.com/wbrown/janus-triples/triples/storage"
)

// nestedLoop scans step's pattern once per input solution, narrowed by the
// variables the solution already binds.
func (p *pipeline) nestedLoop(in <-chan query.Solution, step planner.Step) <-chan query.Solution {
	return p.stage(func(out chan<- query.Solution) {
		ctx := p.upCtx
		start := time.Now()
		var inputs, outputs, rows, scans int

		for {
			s, ok := recv(ctx, in)
			if !ok {
				break
			}
			inputs++
			narrowed := step.Pattern.Substitute(s)
			idx := index.ChooseIndex(narrowed, step.Index)
			r, err := index.BuildRange(narrowed, idx)
			if err != nil {
				p.fail(err)
				return
			}
			scanStart := time.Now()
			n, emitted, err := p.scanRange(ctx, r, func(t triples.Triple) bool {
				sol, ok := query.Match(s, step.Pattern, t)
				if !ok {
					return true
				}
				outputs++
				return send(ctx, out, sol)
			})
			rows += n
			scans++
			if err != nil {
				p.fail(err)
				return
			}
			if p.ann.Enabled() {
				p.ann.AddTiming(annotations.PatternStorageScan, p.id, scanStart, map[string]interface{}{
					"pattern":      narrowed.String(),
					"index":        idx.String(),
					"rows.scanned": n,
				})
			}
			if !emitted {
				return
			}
		}

		if p.ann.Enabled() {
			p.ann.AddTiming(annotations.JoinNested, p.id, start, map[string]interface{}{
				"pattern":      step.Pattern.String(),
				"index":        step.Index.String(),
				"input.count":  inputs,
				"output.count": outputs,
				"rows.scanned": rows,
				"scans":        scans,
			})
		}
	})
}

// scanRange feeds every triple in r to fn until fn returns false. It reports
// the rows read and whether the scan ran to completion.
func (p *pipeline) scanRange(ctx context.Context, r index.Range, fn func(triples.Triple) bool) (int, bool, error) {
	it, err := p.store.Scan(ctx, r.Start, r.End, r.Reverse)
	if err != nil {
		return 0, false, err
	}
	defer it.Close()

	rows := 0
	for it.Next() {
		rows++
		t, err := codec.DecodeTriple(it.Value())
		if err != nil {
			return rows, false, err
		}
		if !fn(t) {
			return rows, false, nil
		}
	}
	return rows, true, it.Err()
}

// sortMerge evaluates step against an input stream ordered by step's merge
// variables. A single cursor over the step's range moves forward only: for
// each input the cursor is sought to the input's merge prefix and the rows
// under that prefix are matched. Rows of the current prefix are kept so that
// consecutive inputs with the same prefix are matched against them again.
func (p *pipeline) sortMerge(in <-chan query.Solution, step planner.Step) <-chan query.Solution {
	return p.stage(func(out chan<- query.Solution) {
		ctx := p.upCtx
		start := time.Now()
		var inputs, outputs int

		r, err := index.BuildRange(step.Pattern, step.Index)
		if err != nil {
			p.fail(err)
			return
		}
		c := &cursor{}
		defer c.close()

		var prev []byte
		var group []triples.Triple
		for {
			s, ok := recv(ctx, in)
			if !ok {
				break
			}
			inputs++
			prefix, err := mergePrefix(step, s)
			if err != nil {
				p.fail(err)
				return
			}

			switch cmp := bytes.Compare(prefix, prev); {
			case prev != nil && cmp < 0:
				p.fail(terr.New(terr.CodeExecutorMergeOrderViolation,
					"sort-merge input is not ordered by the merge key",
					terr.Field("pattern", step.Pattern.String()),
					terr.Field("index", step.Index.String())))
				return
			case prev != nil && cmp == 0:
				// Same prefix as the previous input: replay its rows.
			default:
				group = group[:0]
				if !c.opened {
					c.opened = true
					if c.it, err = p.store.Scan(ctx, r.Start, r.End, false); err != nil {
						p.fail(err)
						return
					}
					c.seek(prefix)
				} else if c.valid && bytes.Compare(c.key, prefix) < 0 {
					c.seek(prefix)
				}
				for c.valid && bytes.HasPrefix(c.key, prefix) {
					group = append(group, c.triple)
					c.advance()
				}
				if c.err != nil {
					p.fail(c.err)
					return
				}
				if !c.valid {
					// Exhausted; later inputs can only replay the last group.
					c.close()
				}
				prev = append(prev[:0], prefix...)
			}

			if p.ann.Enabled() {
				p.ann.Add(annotations.Event{Name: annotations.JoinMergeAdvance, QueryID: p.id,
					Data: map[string]interface{}{
						"pattern": step.Pattern.String(),
						"prefix":  append([]byte(nil), prefix...),
						"rows":    len(group),
					}})
			}
			for _, t := range group {
				sol, ok := query.Match(s, step.Pattern, t)
				if !ok {
					continue
				}
				outputs++
				if !send(ctx, out, sol) {
					return
				}
			}
		}

		if p.ann.Enabled() {
			p.ann.AddTiming(annotations.JoinMerge, p.id, start, map[string]interface{}{
				"pattern":      step.Pattern.String(),
				"index":        step.Index.String(),
				"merge.vars":   step.MergeVars,
				"input.count":  inputs,
				"output.count": outputs,
				"rows.scanned": c.rows,
			})
		}
	})
}

// mergePrefix is the key prefix of step's index with the merge variables
// replaced by their values in s.
func mergePrefix(step planner.Step, s query.Solution) ([]byte, error) {
	pat := step.Pattern
	for _, name := range step.MergeVars {
		v, ok := s.Get(name)
		if !ok {
			return nil, terr.New(terr.CodeExecutorMergeOrderViolation, "merge variable is unbound",
				terr.Field("variable", name))
		}
		for _, f := range triples.Fields {
			if t, isVar := pat.Term(f).(query.Variable); isVar && t.Name == name {
				pat = pat.With(f, query.Constant{Value: v})
			}
		}
	}
	return codec.BuildKey(step.Index, pat.Bound())
}

// cursor is the forward-only position of a sort-merge scan. The current key
// and triple are copies, since the iterator reuses its buffers.
type cursor struct {
	it     storage.Iterator
	opened bool
	valid  bool
	key    []byte
	triple triples.Triple
	rows   int
	err    error
}

func (c *cursor) advance() {
	if c.it == nil {
		c.valid = false
		return
	}
	c.valid = c.it.Next()
	if !c.valid {
		c.err = c.it.Err()
		return
	}
	c.rows++
	c.key = append(c.key[:0], c.it.Key()...)
	if c.triple, c.err = codec.DecodeTriple(c.it.Value()); c.err != nil {
		c.valid = false
	}
}

func (c *cursor) seek(key []byte) {
	c.it.Seek(key)
	c.advance()
}

func (c *cursor) close() {
	if c.it != nil {
		c.it.Close()
		c.it = nil
	}
}

// filter drops solutions rejected by keep.
func (p *pipeline) filter(in <-chan query.Solution, keep func(query.Solution) bool) <-chan query.Solution {
	return p.stage(func(out chan<- query.Solution) {
		ctx := p.upCtx
		start := time.Now()
		var inputs, outputs int
		defer func() {
			if p.ann.Enabled() {
				p.ann.AddTiming(annotations.FilterApplied, p.id, start, map[string]interface{}{
					"input.count": inputs, "output.count": outputs,
				})
			}
		}()
		for {
			s, ok := recv(ctx, in)
			if !ok {
				return
			}
			inputs++
			if !keep(s) {
				continue
			}
			outputs++
			if !send(ctx, out, s) {
				return
			}
		}
	})
}

// offset skips the first n solutions.
func (p *pipeline) offset(in <-chan query.Solution, n int) <-chan query.Solution {
	return p.stage(func(out chan<- query.Solution) {
		ctx := p.upCtx
		seen := 0
		for {
			s, ok := recv(ctx, in)
			if !ok {
				return
			}
			seen++
			if seen <= n {
				continue
			}
			if !send(ctx, out, s) {
				return
			}
		}
	})
}

// limit forwards at most n solutions, then cancels everything upstream so
// scans stop right away instead of when the next solution is pulled.
func (p *pipeline) limit(in <-chan query.Solution, n int) <-chan query.Solution {
	return p.stage(func(out chan<- query.Solution) {
		ctx := p.ctx
		start := time.Now()
		sent := 0
		for sent < n {
			s, ok := recv(ctx, in)
			if !ok {
				return
			}
			if !send(ctx, out, s) {
				return
			}
			sent++
		}
		p.upCancel()
		p.ann.AddTiming(annotations.LimitReached, p.id, start, map[string]interface{}{"limit": n})
	})
}

// materialize projects every solution through tmpl.
func (p *pipeline) materialize(in <-chan query.Solution, tmpl query.Template) <-chan query.Solution {
	return p.stage(func(out chan<- query.Solution) {
		ctx := p.ctx
		for {
			s, ok := recv(ctx, in)
			if !ok {
				return
			}
			if !send(ctx, out, tmpl.Materialize(s)) {
				return
			}
		}
	})
}
