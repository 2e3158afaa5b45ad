package executor

import (
	"github.com/wbrown/janus-triples/triples/annotations"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
)

// DefaultBufferSize is the capacity of the channel between two stages.
const DefaultBufferSize = 16

// Options are the per-query settings
type Options struct {
	JoinAlgorithm planner.JoinStrategy // SortMerge (default) or NestedLoop

	Limit  int // 0 means no limit
	Offset int

	// Filter drops solutions it returns false for. Applied before Offset
	// and Limit.
	Filter func(query.Solution) bool

	// Materialized projects every solution through a template
	Materialized query.Template

	InitialSolution query.Solution

	// BufferSize overrides the executor's channel capacity
	BufferSize int

	Annotations *annotations.Collector
}

// Validate rejects negative limits, offsets and buffer sizes.
func (o Options) Validate() error {
	switch {
	case o.Limit < 0:
		return terr.New(terr.CodeQueryOptionInvalid, "limit must not be negative", terr.Field("limit", o.Limit))
	case o.Offset < 0:
		return terr.New(terr.CodeQueryOptionInvalid, "offset must not be negative", terr.Field("offset", o.Offset))
	case o.BufferSize < 0:
		return terr.New(terr.CodeQueryOptionInvalid, "buffer size must not be negative", terr.Field("buffer_size", o.BufferSize))
	case o.JoinAlgorithm != planner.NestedLoop && o.JoinAlgorithm != planner.SortMerge:
		return terr.New(terr.CodeQueryOptionInvalid, "unknown join algorithm", terr.Field("join", o.JoinAlgorithm.String()))
	}
	for name, term := range o.Materialized {
		if term == nil || term.IsBlank() {
			return terr.New(terr.CodeQueryOptionInvalid, "materialized field needs a variable or constant",
				terr.Field("field", name))
		}
	}
	return nil
}
