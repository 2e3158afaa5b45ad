package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/database"
	"github.com/wbrown/janus-triples/triples/executor"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
)

var demoTriples = []triples.Triple{
	triples.T("alice", "name", "Alice"),
	triples.T("alice", "age", int64(30)),
	triples.T("alice", "city", "New York"),
	triples.T("bob", "name", "Bob"),
	triples.T("bob", "age", int64(25)),
	triples.T("bob", "city", "Boston"),
	triples.T("carol", "name", "Carol"),
	triples.T("carol", "age", int64(35)),
	triples.T("carol", "city", "New York"),
	triples.T("alice", "knows", "bob"),
	triples.T("alice", "knows", "carol"),
	triples.T("bob", "knows", "carol"),
}

type demoQuery struct {
	title    string
	patterns []query.Pattern
	filter   func(query.Solution) bool
}

var demoQueries = []demoQuery{
	{
		title: "Everyone's name and age",
		patterns: []query.Pattern{
			query.P("?p", "name", "?name"),
			query.P("?p", "age", "?age"),
		},
	},
	{
		title: "People in New York",
		patterns: []query.Pattern{
			query.P("?p", "city", "New York"),
			query.P("?p", "name", "?name"),
		},
	},
	{
		title: "Names of people Alice knows",
		patterns: []query.Pattern{
			query.P("alice", "knows", "?friend"),
			query.P("?friend", "name", "?name"),
		},
	},
	{
		title: "People over 25",
		patterns: []query.Pattern{
			query.P("?p", "name", "?name"),
			query.P("?p", "age", "?age"),
		},
		filter: func(s query.Solution) bool {
			age, _ := s.Get("age")
			n, ok := age.(int64)
			return ok && n > 25
		},
	},
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Load sample data and run sample queries with both join algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			heading := color.New(color.FgCyan, color.Bold)

			ops := make([]database.Op, len(demoTriples))
			for i, t := range demoTriples {
				ops[i] = database.Op{Type: database.PutOp, Triple: t}
			}
			if err := a.db.Batch(ctx, ops); err != nil {
				return err
			}
			fmt.Fprintf(out, "Loaded %d triples\n", len(demoTriples))

			for _, q := range demoQueries {
				fmt.Fprintf(out, "\n%s\n", heading.Sprint(q.title))
				for _, join := range []planner.JoinStrategy{planner.SortMerge, planner.NestedLoop} {
					opts := a.db.QueryOptions()
					opts.JoinAlgorithm = join
					opts.Filter = q.filter
					opts.Annotations = a.annotations(cmd)

					plan, err := a.db.Explain(ctx, q.patterns, opts)
					if err != nil {
						return err
					}
					res, err := a.db.Query(ctx, q.patterns, opts)
					if err != nil {
						return err
					}
					sols, err := res.All()
					if err != nil {
						return err
					}
					fmt.Fprintln(out, plan)
					fmt.Fprintln(out, executor.SolutionsString(sols))
				}
			}
			return nil
		},
	}
}
