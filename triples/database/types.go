package database

import "github.com/wbrown/janus-triples/triples"

// OpType is the kind of a batch operation
type OpType uint8

const (
	PutOp OpType = iota
	DelOp
)

func (t OpType) String() string {
	switch t {
	case PutOp:
		return "put"
	case DelOp:
		return "del"
	default:
		return "unknown"
	}
}

// Op is one triple write in a batch
type Op struct {
	Type   OpType
	Triple triples.Triple
}

// GetOptions controls single-pattern retrieval.
type GetOptions struct {
	Limit   int // 0 means no limit
	Offset  int
	Reverse bool
}
