package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
)

// TableFormatter renders solutions, triples and plans as markdown tables
type TableFormatter struct {
	// MaxWidth is the maximum width for a column
	MaxWidth int
	// TruncateString is the string to append when truncating
	TruncateString string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatSolutions formats solutions with one column per variable. With no
// columns given, every bound name is shown in sorted order.
func (tf *TableFormatter) FormatSolutions(columns []string, sols []query.Solution) string {
	if len(sols) == 0 {
		return "_No solutions_"
	}
	if len(columns) == 0 {
		columns = solutionColumns(sols)
	}
	rows := make([][]string, len(sols))
	for i, s := range sols {
		row := make([]string, len(columns))
		for j, col := range columns {
			if v, ok := s.Get(col); ok {
				row[j] = tf.formatValue(v)
			}
		}
		rows[i] = row
	}
	return tf.formatTable(columns, rows, "solutions")
}

// FormatTriples formats triples as subject, predicate, object columns
func (tf *TableFormatter) FormatTriples(ts []triples.Triple) string {
	if len(ts) == 0 {
		return "_No triples_"
	}
	rows := make([][]string, len(ts))
	for i, t := range ts {
		rows[i] = []string{tf.formatValue(t.Subject), tf.formatValue(t.Predicate), tf.formatValue(t.Object)}
	}
	return tf.formatTable([]string{"subject", "predicate", "object"}, rows, "triples")
}

// FormatPlan formats the steps of a plan in execution order
func (tf *TableFormatter) FormatPlan(plan *planner.Plan) string {
	if plan == nil || len(plan.Steps) == 0 {
		return "_Empty plan_"
	}
	rows := make([][]string, len(plan.Steps))
	for i, s := range plan.Steps {
		cost := fmt.Sprintf("%d", s.Estimate)
		if !s.Estimated {
			cost += " (unbound)"
		}
		rows[i] = []string{
			fmt.Sprintf("%d", i+1),
			tf.truncate(s.Pattern.String()),
			s.Index.String(),
			s.Strategy.String(),
			strings.Join(s.MergeVars, ","),
			cost,
		}
	}
	return tf.formatTable([]string{"step", "pattern", "index", "join", "merge on", "cost"}, rows, "steps")
}

// formatTable formats columns and rows as a markdown table
func (tf *TableFormatter) formatTable(columns []string, rows [][]string, unit string) string {
	tableString := &strings.Builder{}

	// Create alignment array with all columns using AlignNone for simple separators
	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d %s_\n", len(rows), unit))
	return tableString.String()
}

// formatValue converts a value to a string representation
func (tf *TableFormatter) formatValue(val triples.Value) string {
	return tf.truncate(triples.Format(val))
}

func (tf *TableFormatter) truncate(s string) string {
	if tf.MaxWidth <= 0 || len(s) <= tf.MaxWidth {
		return s
	}
	cut := tf.MaxWidth - len(tf.TruncateString)
	if cut < 0 {
		cut = 0
	}
	// Back up to a rune boundary.
	for cut > 0 && cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + tf.TruncateString
}

func solutionColumns(sols []query.Solution) []string {
	seen := map[string]bool{}
	var cols []string
	for _, s := range sols {
		for _, n := range s.Names() {
			if !seen[n] {
				seen[n] = true
				cols = append(cols, n)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// SolutionsString returns solutions as a markdown table
func SolutionsString(sols []query.Solution) string {
	return NewTableFormatter().FormatSolutions(nil, sols)
}

// FormatPlan returns a plan as a markdown table
func FormatPlan(plan *planner.Plan) string {
	return NewTableFormatter().FormatPlan(plan)
}
