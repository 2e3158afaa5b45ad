package storage

import (
	"context"
	"sync"

	"github.com/google/btree"
)

const (
	btreeDegree     = 16
	memoryBatchSize = 64
)

// kvItem values are stored in the btree ordered by key.
type kvItem struct {
	key   []byte
	value []byte
}

// Less is needed to order the btree.
func (a kvItem) Less(other btree.Item) bool {
	return compare(a.key, other.(kvItem).key) < 0
}

// MemoryStore is an in-memory Store backed by a btree. Scans iterate over a
// copy-on-write clone of the tree taken when the scan opens, so a batch
// applied during a scan is invisible to it.
type MemoryStore struct {
	mu        sync.RWMutex
	tree      *btree.BTree
	sizeLimit int
	closed    bool
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: btree.New(btreeDegree), sizeLimit: DefaultSizeScanLimit}
}

// WithSizeScanLimit caps the entries ApproximateSize visits; n <= 0 keeps
// the default.
func (s *MemoryStore) WithSizeScanLimit(n int) *MemoryStore {
	if n > 0 {
		s.sizeLimit = n
	}
	return s
}

// Batch applies all operations under the write lock.
func (s *MemoryStore) Batch(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	for _, op := range ops {
		key := append([]byte(nil), op.Key...)
		switch op.Type {
		case Put:
			s.tree.ReplaceOrInsert(kvItem{key: key, value: append([]byte(nil), op.Value...)})
		case Delete:
			s.tree.Delete(kvItem{key: key})
		}
	}
	return nil
}

func (s *MemoryStore) snapshot() (*btree.BTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed()
	}
	// Clone marks the shared nodes copy-on-write for both trees, so it
	// needs exclusive access.
	return s.tree.Clone(), nil
}

// Scan returns an iterator over a snapshot of the range
func (s *MemoryStore) Scan(ctx context.Context, start, end []byte, reverse bool) (Iterator, error) {
	tree, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return &memoryIterator{ctx: ctx, tree: tree, start: start, end: end, reverse: reverse, next: start, hi: end}, nil
}

// ApproximateSize returns the key and value bytes in the range
func (s *MemoryStore) ApproximateSize(ctx context.Context, start, end []byte) (int64, error) {
	var size int64
	err := s.visit(ctx, start, end, s.sizeLimit, func(it kvItem) { size += int64(len(it.key) + len(it.value)) })
	return size, err
}

// CountKeys counts keys in a range
func (s *MemoryStore) CountKeys(ctx context.Context, start, end []byte) (int64, error) {
	var n int64
	err := s.visit(ctx, start, end, 0, func(kvItem) { n++ })
	return n, err
}

// visit calls fn for at most limit entries of the range; limit 0 means all.
func (s *MemoryStore) visit(ctx context.Context, start, end []byte, limit int, fn func(kvItem)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed()
	}
	n := 0
	s.tree.AscendGreaterOrEqual(kvItem{key: start}, func(i btree.Item) bool {
		it := i.(kvItem)
		if end != nil && compare(it.key, end) >= 0 || limit > 0 && n >= limit {
			return false
		}
		fn(it)
		n++
		return true
	})
	return nil
}

// Len returns the number of keys stored
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Close releases the tree
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tree = btree.New(btreeDegree)
	return nil
}

// memoryIterator pulls items from the snapshot in small batches.
type memoryIterator struct {
	ctx     context.Context
	tree    *btree.BTree
	start   []byte
	end     []byte
	reverse bool

	next []byte // ascending: inclusive lower bound of the next batch
	hi   []byte // descending: exclusive upper bound of the next batch
	done bool

	buf []kvItem
	cur kvItem
	err error
}

func (i *memoryIterator) Next() bool {
	if i.err != nil || i.tree == nil {
		return false
	}
	if err := i.ctx.Err(); err != nil {
		i.err = err
		return false
	}
	if len(i.buf) == 0 {
		if i.done {
			return false
		}
		i.fill()
		if len(i.buf) == 0 {
			return false
		}
	}
	i.cur = i.buf[0]
	i.buf = i.buf[1:]
	return true
}

func (i *memoryIterator) fill() {
	i.buf = i.buf[:0]
	if !i.reverse {
		i.tree.AscendGreaterOrEqual(kvItem{key: i.next}, func(item btree.Item) bool {
			it := item.(kvItem)
			if i.end != nil && compare(it.key, i.end) >= 0 {
				i.done = true
				return false
			}
			i.buf = append(i.buf, it)
			return len(i.buf) < memoryBatchSize
		})
		if len(i.buf) < memoryBatchSize {
			i.done = true
		} else {
			last := i.buf[len(i.buf)-1].key
			i.next = append(append(make([]byte, 0, len(last)+1), last...), 0x00)
		}
		return
	}

	collect := func(item btree.Item) bool {
		it := item.(kvItem)
		if i.hi != nil && compare(it.key, i.hi) >= 0 {
			return true
		}
		if i.start != nil && compare(it.key, i.start) < 0 {
			i.done = true
			return false
		}
		i.buf = append(i.buf, it)
		return len(i.buf) < memoryBatchSize
	}
	if i.hi == nil {
		i.tree.Descend(collect)
	} else {
		i.tree.DescendLessOrEqual(kvItem{key: i.hi}, collect)
	}
	if len(i.buf) < memoryBatchSize {
		i.done = true
	} else {
		i.hi = i.buf[len(i.buf)-1].key
	}
}

func (i *memoryIterator) Key() []byte   { return i.cur.key }
func (i *memoryIterator) Value() []byte { return i.cur.value }

func (i *memoryIterator) Seek(key []byte) {
	if i.reverse || i.tree == nil {
		return
	}
	if i.start != nil && compare(key, i.start) < 0 {
		key = i.start
	}
	i.next = append([]byte(nil), key...)
	i.buf = i.buf[:0]
	i.done = false
}

func (i *memoryIterator) Err() error { return i.err }

func (i *memoryIterator) Close() error {
	i.tree = nil
	i.buf = nil
	return nil
}
