package planner

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/query"
)

// JoinStrategy selects the join operator of a plan step. As a query
// preference the zero value asks for sort-merge joins where possible.
type JoinStrategy uint8

const (
	SortMerge JoinStrategy = iota
	NestedLoop
)

func (s JoinStrategy) String() string {
	switch s {
	case NestedLoop:
		return "nestedLoop"
	case SortMerge:
		return "sortMerge"
	default:
		return fmt.Sprintf("JoinStrategy(%d)", uint8(s))
	}
}

// ParseJoinStrategy accepts "nestedLoop" or "sortMerge" (case-insensitive,
// dashes and underscores ignored).
func ParseJoinStrategy(s string) (JoinStrategy, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	switch norm {
	case "nestedloop", "nested":
		return NestedLoop, nil
	case "sortmerge", "merge", "":
		return SortMerge, nil
	default:
		return 0, fmt.Errorf("unknown join strategy %q", s)
	}
}

// Step is one pattern of a plan annotated with the index to scan and the
// join operator that evaluates it.
type Step struct {
	Pattern  query.Pattern // pattern after substituting the initial solution
	Position int           // position in the query as written
	Index    triples.Index
	Strategy JoinStrategy
	// MergeVars are the variables whose values form the merge key of a
	// SortMerge step, in key order.
	MergeVars []string
	Estimate  int64 // estimated cost; bytes, or unbound fields when Estimated is false
	Estimated bool
}

// Plan is the ordered list of steps for one query
type Plan struct {
	Steps      []Step
	Initial    query.Solution
	Preference JoinStrategy
	// OrderVars is the variable order in which the first step emits its
	// solutions; every later step preserves it.
	OrderVars []string
}

// String returns a human-readable representation of the plan
func (p *Plan) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Query Plan (%s preferred):\n", p.Preference))
	if p.Initial.Len() > 0 {
		sb.WriteString(fmt.Sprintf("  Initial: %s\n", p.Initial))
	}
	if len(p.Steps) == 0 {
		sb.WriteString("  (empty)\n")
		return sb.String()
	}
	for i, s := range p.Steps {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, s.String()))
	}
	if len(p.OrderVars) > 0 {
		sb.WriteString(fmt.Sprintf("  Order: %v\n", p.OrderVars))
	}
	return sb.String()
}

// String returns a one-line description of the step
func (s Step) String() string {
	join := s.Strategy.String()
	if s.Strategy == SortMerge {
		join += " on " + strings.Join(s.MergeVars, ",")
	}
	unit := "bytes"
	if !s.Estimated {
		unit = "unbound"
	}
	return fmt.Sprintf("%s [%s index, %s, cost=%d %s]", s.Pattern, s.Index, join, s.Estimate, unit)
}
