package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wbrown/janus-triples/triples/annotations"
	"github.com/wbrown/janus-triples/triples/metrics"
	"github.com/wbrown/janus-triples/triples/query"
	"github.com/wbrown/janus-triples/triples/storage"
)

// pipeline is the shared state of one running query. Every stage runs on its
// own goroutine and talks to its neighbours over bounded channels, so a slow
// consumer suspends the scans feeding it.
//
// Stages upstream of the limit use upCtx; the limit stage cancels it after
// forwarding its last solution, which stops every scan without disturbing
// the stages that still have to deliver that solution.
type pipeline struct {
	id     string
	store  storage.Store
	buffer int
	log    logrus.FieldLogger
	ann    *annotations.Collector
	m      *metrics.Query
	start  time.Time

	caller   context.Context
	ctx      context.Context
	cancel   context.CancelFunc
	upCtx    context.Context
	upCancel context.CancelFunc

	wg sync.WaitGroup

	mu  sync.Mutex
	err error
}

func newPipeline(caller context.Context, id string, store storage.Store, buffer int) *pipeline {
	p := &pipeline{id: id, store: store, buffer: buffer, caller: caller, start: time.Now()}
	p.ctx, p.cancel = context.WithCancel(caller)
	p.upCtx, p.upCancel = context.WithCancel(p.ctx)
	return p
}

// fail records the first real error and stops the whole pipeline. Context
// errors are the consequence of a cancellation, not its cause, and are not
// recorded.
func (p *pipeline) fail(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	p.mu.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	p.mu.Unlock()
	if first {
		p.log.WithError(err).WithField("query", p.id).Warn("query failed")
		p.ann.Add(annotations.Event{Name: annotations.ErrorBackend, QueryID: p.id, Start: time.Now(), End: time.Now(),
			Data: map[string]interface{}{"error": err.Error()}})
	}
	p.cancel()
}

func (p *pipeline) failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

// result returns the error the query ended with.
func (p *pipeline) result() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	return p.caller.Err()
}

// stage starts fn on its own goroutine and returns the channel it writes to.
// The channel is closed when fn returns.
func (p *pipeline) stage(fn func(out chan<- query.Solution)) <-chan query.Solution {
	out := make(chan query.Solution, p.buffer)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		fn(out)
	}()
	return out
}

// send delivers s unless ctx is cancelled first.
func send(ctx context.Context, out chan<- query.Solution, s query.Solution) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// recv waits for the next input solution.
func recv(ctx context.Context, in <-chan query.Solution) (query.Solution, bool) {
	select {
	case s, ok := <-in:
		return s, ok
	case <-ctx.Done():
		return query.Solution{}, false
	}
}

// seed returns a closed channel holding the single initial solution.
func seed(s query.Solution) <-chan query.Solution {
	ch := make(chan query.Solution, 1)
	ch <- s
	close(ch)
	return ch
}

// Results is the lazy, single-pass output of a query.
//
//	res, err := exec.Query(ctx, patterns, opts)
//	if err != nil { ... }
//	defer res.Close()
//	for res.Next() {
//	    sol := res.Solution()
//	}
//	if err := res.Err(); err != nil { ... }
type Results struct {
	p     *pipeline
	out   <-chan query.Solution
	cur   query.Solution
	count int

	done bool
	once sync.Once
	err  error
}

// Next advances to the next solution. It returns false when the query is
// exhausted, has failed, or was closed; by then every stage has stopped and
// every store cursor is closed.
func (r *Results) Next() bool {
	if r.done {
		return false
	}
	if r.out == nil {
		r.finish()
		return false
	}
	s, ok := <-r.out
	if !ok || r.p.failed() {
		r.finish()
		return false
	}
	r.cur = s
	r.count++
	if r.p.m != nil {
		r.p.m.Rows.Inc()
	}
	return true
}

// Solution returns the current solution
func (r *Results) Solution() query.Solution { return r.cur }

// Err returns the error that ended the query, if any
func (r *Results) Err() error {
	if !r.done {
		return nil
	}
	return r.err
}

// Close stops the query early. It cancels every stage and waits for them to
// release their cursors.
func (r *Results) Close() error {
	r.finish()
	return nil
}

// All drains the results. On failure it returns the error and no solutions.
func (r *Results) All() ([]query.Solution, error) {
	defer r.Close()
	var out []query.Solution
	for r.Next() {
		out = append(out, r.Solution())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Results) finish() {
	r.once.Do(func() {
		r.done = true
		if r.p == nil {
			return
		}
		p := r.p
		p.cancel()
		if r.out != nil {
			for range r.out {
			}
		}
		p.wg.Wait()
		r.err = p.result()
		// Context resources are released once every stage is done.
		p.upCancel()

		data := map[string]interface{}{"solutions.count": r.count}
		if r.err != nil {
			data["error"] = r.err.Error()
		}
		p.ann.AddTiming(annotations.QueryComplete, p.id, p.start, data)
		if p.m != nil {
			p.m.Latency.Observe(time.Since(p.start).Seconds())
			if r.err != nil {
				p.m.Failures.Inc()
			}
		}
		p.log.WithFields(logrus.Fields{
			"query":     p.id,
			"solutions": r.count,
			"elapsed":   time.Since(p.start),
		}).Debug("query finished")
	})
}
