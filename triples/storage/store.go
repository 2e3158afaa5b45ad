// Package storage defines the ordered key/value store the engine runs on and
// provides badger and in-memory btree implementations.
package storage

import (
	"bytes"
	"context"

	terr "github.com/wbrown/janus-triples/triples/errors"
)

// OpType is the kind of a batch operation
type OpType uint8

const (
	Put OpType = iota
	Delete
)

func (t OpType) String() string {
	if t == Delete {
		return "del"
	}
	return "put"
}

// Op is one write in an atomic batch
type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Store is the interface for ordered key/value storage
type Store interface {
	// Scan returns an iterator over [start, end). A nil end is unbounded.
	// Reverse scans visit the range in descending key order.
	Scan(ctx context.Context, start, end []byte, reverse bool) (Iterator, error)

	// ApproximateSize estimates the bytes stored in [start, end). Stores
	// that cannot estimate return an error coded store.size.unsupported.
	ApproximateSize(ctx context.Context, start, end []byte) (int64, error)

	// Batch applies all operations atomically: a concurrent scan sees all
	// of them or none.
	Batch(ctx context.Context, ops []Op) error

	// Lifecycle
	Close() error
}

// Iterator provides sequential access to a key range
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	// Seek positions the iterator so that the next call to Next lands on
	// the first key at or after key. Only ascending scans support Seek.
	Seek(key []byte)
	Err() error
	Close() error
}

// KeyCounter is implemented by stores that can count the keys in a range
// without reading values.
type KeyCounter interface {
	CountKeys(ctx context.Context, start, end []byte) (int64, error)
}

var compare = bytes.Compare

// DefaultSizeScanLimit bounds how many keys ApproximateSize visits.
const DefaultSizeScanLimit = 100000

func errClosed() error {
	return terr.New(terr.CodeStoreClosed, "store is closed")
}

func ioFailure(err error, op string) error {
	return terr.Wrap(err, terr.CodeStoreIOFailure, "store "+op+" failed", terr.Field("op", op))
}

func errSizeUnsupported() error {
	return terr.New(terr.CodeStoreSizeUnsupported, "store cannot count or estimate ranges")
}
