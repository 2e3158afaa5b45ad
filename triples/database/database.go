// Package database is the public API for reading, writing and querying
// triples. Every triple is stored six times, once under each permutation
// index, and every write touches all six entries in one atomic batch.
package database

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/codec"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/executor"
	"github.com/wbrown/janus-triples/triples/index"
	"github.com/wbrown/janus-triples/triples/metrics"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
	"github.com/wbrown/janus-triples/triples/storage"
)

// Options configures a Database
type Options struct {
	Logger logrus.FieldLogger
	// Join is the join algorithm QueryOptions starts from.
	Join planner.JoinStrategy
	// BufferSize is the channel capacity between executor stages.
	BufferSize int
	// DefaultLimit is the limit QueryOptions starts from; 0 means none.
	DefaultLimit int
	// Metrics receives query metrics when set.
	Metrics *metrics.Query
}

// Database provides the main API for reading and writing triples
type Database struct {
	store  storage.Store
	exec   *executor.Executor
	opts   Options
	log    logrus.FieldLogger
	closed atomic.Bool

	mu       sync.Mutex
	activeTx map[*Transaction]bool
}

// New creates a database over store. The database owns the store and closes
// it on Close.
func New(store storage.Store, opts Options) *Database {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Database{
		store: store,
		exec: executor.NewExecutor(store, executor.Config{
			BufferSize: opts.BufferSize,
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
		}),
		opts:     opts,
		log:      opts.Logger.WithField("component", "database"),
		activeTx: make(map[*Transaction]bool),
	}
}

// NewMemory creates a database over a fresh in-memory store
func NewMemory(opts Options) *Database {
	return New(storage.NewMemoryStore(), opts)
}

// Open creates a database over a badger store at path
func Open(path string, opts Options) (*Database, error) {
	store, err := storage.NewBadgerStoreWithOptions(storage.BadgerOptions{Path: path, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return New(store, opts), nil
}

// Store returns the underlying store for direct access (debugging/testing)
func (d *Database) Store() storage.Store { return d.store }

// Put stores the triple (s, p, o). Storing a triple twice leaves exactly one
// copy.
func (d *Database) Put(ctx context.Context, s, p, o interface{}) error {
	return d.Batch(ctx, []Op{{Type: PutOp, Triple: triples.T(s, p, o)}})
}

// Del removes the triple (s, p, o). Removing an absent triple is not an
// error.
func (d *Database) Del(ctx context.Context, s, p, o interface{}) error {
	return d.Batch(ctx, []Op{{Type: DelOp, Triple: triples.T(s, p, o)}})
}

// Batch applies puts and deletes atomically: readers see all of them or
// none. Operations apply in order, so a later op on the same triple wins.
func (d *Database) Batch(ctx context.Context, ops []Op) error {
	if d.closed.Load() {
		return terr.New(terr.CodeStoreClosed, "database is closed")
	}
	if len(ops) == 0 {
		return nil
	}
	kv := make([]storage.Op, 0, len(ops)*len(triples.Indexes))
	for i, op := range ops {
		entries, err := entriesFor(op)
		if err != nil {
			return terr.Wrapf(err, terr.CodeOf(err), "batch op %d", i)
		}
		kv = append(kv, entries...)
	}
	if err := d.store.Batch(ctx, kv); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"ops": len(ops), "entries": len(kv)}).Debug("batch applied")
	return nil
}

func entriesFor(op Op) ([]storage.Op, error) {
	t, err := op.Triple.Normalize()
	if err != nil {
		return nil, terr.Wrap(err, terr.CodeCodecFieldInvalid, "invalid triple")
	}
	keys, err := codec.BuildAllKeys(t)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Op, len(keys))
	switch op.Type {
	case PutOp:
		value, err := codec.EncodeTriple(t)
		if err != nil {
			return nil, err
		}
		for i, k := range keys {
			out[i] = storage.Op{Type: storage.Put, Key: k, Value: value}
		}
	case DelOp:
		for i, k := range keys {
			out[i] = storage.Op{Type: storage.Delete, Key: k}
		}
	default:
		return nil, terr.Errorf(terr.CodeQueryOptionInvalid, "unknown op type %d", op.Type)
	}
	return out, nil
}

// Get returns the triples matching a single pattern, in the key order of the
// index serving it. Variables are allowed and a variable repeated in the
// pattern must see equal values.
func (d *Database) Get(ctx context.Context, p query.Pattern, opts GetOptions) ([]triples.Triple, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, terr.New(terr.CodeQueryOptionInvalid, "limit and offset must not be negative")
	}
	r, err := index.BuildRange(p, index.ChooseIndex(p, index.NoPreference))
	if err != nil {
		return nil, err
	}
	if opts.Reverse {
		r = r.Reversed()
	}
	it, err := d.store.Scan(ctx, r.Start, r.End, r.Reverse)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []triples.Triple
	skipped := 0
	for it.Next() {
		t, err := codec.DecodeTriple(it.Value())
		if err != nil {
			return nil, err
		}
		if _, ok := query.Match(query.EmptySolution(), p, t); !ok {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ApproximateSize estimates the bytes stored under the range serving p
func (d *Database) ApproximateSize(ctx context.Context, p query.Pattern) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	r, err := index.BuildRange(p, index.ChooseIndex(p, index.NoPreference))
	if err != nil {
		return 0, err
	}
	return d.store.ApproximateSize(ctx, r.Start, r.End)
}

// Count returns the number of index entries under the range serving p. For
// a pattern without repeated variables or a filter this is the number of
// matching triples.
func (d *Database) Count(ctx context.Context, p query.Pattern) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	r, err := index.BuildRange(p, index.ChooseIndex(p, index.NoPreference))
	if err != nil {
		return 0, err
	}
	if kc, ok := d.store.(storage.KeyCounter); ok {
		n, err := kc.CountKeys(ctx, r.Start, r.End)
		if !terr.HasCode(err, terr.CodeStoreSizeUnsupported) {
			return n, err
		}
	}
	it, err := d.store.Scan(ctx, r.Start, r.End, false)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int64
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// QueryOptions returns executor options preset with the database defaults
func (d *Database) QueryOptions() executor.Options {
	return executor.Options{
		JoinAlgorithm: d.opts.Join,
		Limit:         d.opts.DefaultLimit,
	}
}

// Query runs a conjunctive query
func (d *Database) Query(ctx context.Context, patterns []query.Pattern, opts executor.Options) (*executor.Results, error) {
	if d.closed.Load() {
		return nil, terr.New(terr.CodeStoreClosed, "database is closed")
	}
	return d.exec.Query(ctx, patterns, opts)
}

// Explain plans a query without running it
func (d *Database) Explain(ctx context.Context, patterns []query.Pattern, opts executor.Options) (*planner.Plan, error) {
	if d.closed.Load() {
		return nil, terr.New(terr.CodeStoreClosed, "database is closed")
	}
	return d.exec.Explain(ctx, patterns, opts)
}

// NavSolutions runs the patterns collected by nav, starting from its initial
// solution, and returns every solution.
func (d *Database) NavSolutions(ctx context.Context, nav *query.Navigator, opts executor.Options) ([]query.Solution, error) {
	if err := nav.Err(); err != nil {
		return nil, err
	}
	opts.InitialSolution = nav.InitialSolution()
	res, err := d.Query(ctx, nav.Patterns(), opts)
	if err != nil {
		return nil, err
	}
	return res.All()
}

// NavValues returns the distinct values of nav's current vertex, in the
// order they first appear. A constant vertex yields just that constant.
func (d *Database) NavValues(ctx context.Context, nav *query.Navigator, opts executor.Options) ([]triples.Value, error) {
	if err := nav.Err(); err != nil {
		return nil, err
	}
	v, ok := nav.Current().(query.Variable)
	if !ok {
		if c, isConst := nav.Current().(query.Constant); isConst {
			return []triples.Value{c.Value}, nil
		}
		return nil, nil
	}
	// The limit applies to distinct values, not solutions.
	limit := opts.Limit
	opts.Limit = 0
	opts.Materialized = nil
	opts.InitialSolution = nav.InitialSolution()
	res, err := d.Query(ctx, nav.Patterns(), opts)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []triples.Value
	seen := map[string]bool{}
	for res.Next() {
		val, bound := res.Solution().Get(v.Name)
		if !bound {
			continue
		}
		key, err := codec.EncodeField(val)
		if err != nil {
			return nil, err
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, val)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := res.Close(); err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// NewTransaction starts a write transaction. Its operations are buffered and
// applied as one batch by Commit.
func (d *Database) NewTransaction() *Transaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &Transaction{db: d}
	d.activeTx[tx] = true
	return tx
}

// Close rolls back open transactions and closes the store
func (d *Database) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.mu.Lock()
	txs := make([]*Transaction, 0, len(d.activeTx))
	for tx := range d.activeTx {
		txs = append(txs, tx)
	}
	d.mu.Unlock()
	for _, tx := range txs {
		tx.Rollback()
	}
	return d.store.Close()
}

// Transaction represents a write transaction
type Transaction struct {
	db     *Database
	mu     sync.Mutex
	ops    []Op
	closed bool
}

// Put queues a put of (s, p, o)
func (t *Transaction) Put(s, p, o interface{}) error {
	return t.add(Op{Type: PutOp, Triple: triples.T(s, p, o)})
}

// Del queues a delete of (s, p, o)
func (t *Transaction) Del(s, p, o interface{}) error {
	return t.add(Op{Type: DelOp, Triple: triples.T(s, p, o)})
}

func (t *Transaction) add(op Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return terr.New(terr.CodeQueryOptionInvalid, "transaction is closed")
	}
	t.ops = append(t.ops, op)
	return nil
}

// Len returns the number of queued operations
func (t *Transaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Commit applies the queued operations atomically
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return terr.New(terr.CodeQueryOptionInvalid, "transaction is closed")
	}
	if err := t.db.Batch(ctx, t.ops); err != nil {
		return err
	}
	t.finish()
	return nil
}

// Rollback discards the queued operations
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.finish()
	return nil
}

func (t *Transaction) finish() {
	t.closed = true
	t.ops = nil
	t.db.mu.Lock()
	delete(t.db.activeTx, t)
	t.db.mu.Unlock()
}
