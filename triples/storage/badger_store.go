package storage

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; data is lost on Close.
	InMemory bool
	// Logger receives badger's own log output. Defaults to the logrus
	// standard logger at warning level and above.
	Logger logrus.FieldLogger
	// SizeScanLimit bounds the keys visited by ApproximateSize.
	SizeScanLimit int
}

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db        *badger.DB
	sizeLimit int
	closed    atomic.Bool
}

// NewBadgerStore opens a BadgerDB-backed store at path
func NewBadgerStore(path string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{Path: path})
}

// NewBadgerStoreWithOptions opens a BadgerDB-backed store
func NewBadgerStoreWithOptions(o BadgerOptions) (*BadgerStore, error) {
	opts := badger.DefaultOptions(o.Path)
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = opts.WithLogger(badgerLogger{logger.WithField("component", "badger")})

	// Read-heavy workload: index scans dominate
	opts.BlockCacheSize = 64 << 20
	opts.IndexCacheSize = 32 << 20
	opts.ValueThreshold = 1 << 10 // serialized triples stay in the LSM tree
	opts.NumCompactors = 4

	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioFailure(err, "open")
	}
	limit := o.SizeScanLimit
	if limit <= 0 {
		limit = DefaultSizeScanLimit
	}
	return &BadgerStore{db: db, sizeLimit: limit}, nil
}

// Batch writes all operations in a single badger transaction
func (s *BadgerStore) Batch(ctx context.Context, ops []Op) error {
	if s.closed.Load() {
		return errClosed()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			switch op.Type {
			case Put:
				err = txn.Set(op.Key, op.Value)
			case Delete:
				err = txn.Delete(op.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioFailure(err, "batch")
	}
	return nil
}

// Scan returns an iterator for a range of keys. The iterator reads from its
// own read-only transaction, so it sees a consistent snapshot.
func (s *BadgerStore) Scan(ctx context.Context, start, end []byte, reverse bool) (Iterator, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	txn := s.db.NewTransaction(false)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.PrefetchValues = true
	opts.Reverse = reverse

	return &BadgerIterator{
		ctx:     ctx,
		txn:     txn,
		it:      txn.NewIterator(opts),
		start:   start,
		end:     end,
		reverse: reverse,
	}, nil
}

// ApproximateSize sums badger's size estimates over a keys-only scan. At
// most SizeScanLimit keys are visited; the result is then a lower bound.
func (s *BadgerStore) ApproximateSize(ctx context.Context, start, end []byte) (int64, error) {
	if s.closed.Load() {
		return 0, errClosed()
	}
	var size int64
	err := s.keysOnly(ctx, start, end, s.sizeLimit, func(item *badger.Item) {
		size += item.EstimatedSize()
	})
	return size, err
}

// CountKeys counts keys in a range without fetching values
func (s *BadgerStore) CountKeys(ctx context.Context, start, end []byte) (int64, error) {
	if s.closed.Load() {
		return 0, errClosed()
	}
	var count int64
	err := s.keysOnly(ctx, start, end, 0, func(*badger.Item) { count++ })
	return count, err
}

// keysOnly visits at most limit keys of the range; limit 0 means all.
func (s *BadgerStore) keysOnly(ctx context.Context, start, end []byte, limit int, visit func(*badger.Item)) error {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false // KEY ONLY - no values!
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(start); it.Valid() && (limit <= 0 || n < limit); it.Next() {
		if end != nil && compare(it.Item().Key(), end) >= 0 {
			break
		}
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		visit(it.Item())
		n++
	}
	return nil
}

// Close closes the store
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return ioFailure(err, "close")
	}
	return nil
}

// BadgerIterator implements Iterator for BadgerDB
type BadgerIterator struct {
	ctx     context.Context
	txn     *badger.Txn
	it      *badger.Iterator
	start   []byte
	end     []byte
	reverse bool
	valid   bool
	key     []byte
	value   []byte
	err     error
	closed  bool
}

// Next advances the iterator
func (i *BadgerIterator) Next() bool {
	if i.closed || i.err != nil {
		return false
	}
	if err := i.ctx.Err(); err != nil {
		i.err = err
		return false
	}
	if !i.valid {
		// First call - seek to start
		i.seek()
		i.valid = true
	} else {
		// Subsequent calls - advance
		i.it.Next()
	}
	if i.reverse {
		// A reverse seek lands on the largest key <= end; end is exclusive.
		for i.it.Valid() && i.end != nil && compare(i.it.Item().Key(), i.end) >= 0 {
			i.it.Next()
		}
	}

	// Check if we're still in range
	if !i.it.Valid() {
		return false
	}
	item := i.it.Item()
	key := item.Key()
	if i.reverse {
		if i.start != nil && compare(key, i.start) < 0 {
			return false
		}
	} else if i.end != nil && compare(key, i.end) >= 0 {
		return false
	}

	i.key = item.KeyCopy(i.key[:0])
	i.value, i.err = item.ValueCopy(i.value[:0])
	if i.err != nil {
		i.err = ioFailure(i.err, "read")
		return false
	}
	return true
}

func (i *BadgerIterator) seek() {
	if !i.reverse {
		i.it.Seek(i.start)
		return
	}
	if i.end == nil {
		i.it.Rewind()
		return
	}
	i.it.Seek(i.end)
}

// Key returns the current key. The slice is reused by the next call to Next.
func (i *BadgerIterator) Key() []byte { return i.key }

// Value returns the current value. The slice is reused by the next call to Next.
func (i *BadgerIterator) Value() []byte { return i.value }

// Seek positions the iterator at or after the given key
func (i *BadgerIterator) Seek(key []byte) {
	if i.reverse || i.closed {
		return
	}
	if i.start != nil && compare(key, i.start) < 0 {
		key = i.start
	}
	// Update start to the seek position so Next() doesn't re-seek to original start
	i.start = append([]byte(nil), key...)
	// Leave valid=false so Next() positions us correctly
	i.valid = false
}

// Err returns the error that stopped iteration, if any
func (i *BadgerIterator) Err() error { return i.err }

// Close closes the iterator
func (i *BadgerIterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
	return nil
}

// badgerLogger routes badger's logging through logrus. Badger is chatty at
// info level, so info messages are demoted to debug.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warningf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debugf(f, v...) }
