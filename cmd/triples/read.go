package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/wbrown/janus-triples/triples"
	"github.com/wbrown/janus-triples/triples/database"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/executor"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
)

func newGetCmd(a *app) *cobra.Command {
	var opts database.GetOptions
	cmd := &cobra.Command{
		Use:   "get SUBJECT PREDICATE OBJECT",
		Short: "List the triples matching one pattern",
		Long:  "List the triples matching one pattern. Use ?name or _ for unknown positions, e.g. get alice knows ?x.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := patternFromArgs(args)
			ts, err := a.db.Get(cmd.Context(), p, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), executor.NewTableFormatter().FormatTriples(ts))
			return err
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of triples (0 for all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of triples to skip")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "scan in descending key order")
	return cmd
}

func newSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size SUBJECT PREDICATE OBJECT",
		Short: "Estimate the size of the range serving a pattern",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := patternFromArgs(args)
			size, err := a.db.ApproximateSize(cmd.Context(), p)
			if err != nil {
				return err
			}
			count, err := a.db.Count(cmd.Context(), p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ~%d bytes, %d entries\n", p, size, count)
			return err
		},
	}
}

// queryFlags are the flags shared by query and explain.
type queryFlags struct {
	file     string
	patterns []string
	join     string
	limit    int
	offset   int
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "YAML query file")
	cmd.Flags().StringArrayVarP(&f.patterns, "pattern", "p", nil, "pattern \"s p o\"; repeat for a join")
	cmd.Flags().StringVar(&f.join, "join", "", "join algorithm: sortMerge or nestedLoop (query.join)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of solutions (query.default_limit)")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "number of solutions to skip")
}

// build resolves the patterns and options of a query from the config, the
// query file and the flags, in increasing priority.
func (f *queryFlags) build(a *app, cmd *cobra.Command) ([]query.Pattern, executor.Options, error) {
	opts := a.db.QueryOptions()
	opts.Annotations = a.annotations(cmd)

	var patterns []query.Pattern
	if f.file != "" {
		var qf QueryFile
		if err := readYAML(f.file, &qf); err != nil {
			return nil, opts, err
		}
		var err error
		if patterns, err = qf.Compile(&opts); err != nil {
			return nil, opts, err
		}
	}
	extra, err := parsePatterns(f.patterns)
	if err != nil {
		return nil, opts, err
	}
	patterns = append(patterns, extra...)
	if len(patterns) == 0 {
		return nil, opts, terr.New(terr.CodeCLIInputInvalid, "no patterns: use --file or --pattern")
	}

	if f.join != "" {
		if opts.JoinAlgorithm, err = planner.ParseJoinStrategy(f.join); err != nil {
			return nil, opts, terr.Wrap(err, terr.CodeCLIInputInvalid, "bad --join")
		}
	}
	if cmd.Flags().Changed("limit") {
		opts.Limit = f.limit
	}
	if cmd.Flags().Changed("offset") {
		opts.Offset = f.offset
	}
	return patterns, opts, nil
}

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a conjunctive query",
		Example: `  triples query -p "alice knows ?x" -p "?x knows ?y"
  triples query -f testdata/friends.yaml --join nestedLoop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			patterns, opts, err := f.build(a, cmd)
			if err != nil {
				return err
			}
			res, err := a.db.Query(cmd.Context(), patterns, opts)
			if err != nil {
				return err
			}
			sols, err := res.All()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), executor.SolutionsString(sols))
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func newExplainCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show the plan of a query without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			patterns, opts, err := f.build(a, cmd)
			if err != nil {
				return err
			}
			plan, err := a.db.Explain(cmd.Context(), patterns, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, color.New(color.Bold).Sprintf("%s preferred", plan.Preference)); err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, executor.FormatPlan(plan))
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func newNavCmd(a *app) *cobra.Command {
	var (
		path  []string
		as    string
		all   bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "nav START",
		Short: "Walk the graph from a vertex",
		Long: `Walk the graph from a vertex along the --path steps and print the distinct
vertices reached. out:PREDICATE follows edges from subject to object and
in:PREDICATE follows them from object to subject.`,
		Example: `  triples nav alice --path out:knows,out:knows
  triples nav carol --path in:knows --as who --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nav := query.NewNavigator(parseValue(args[0]))
			for _, step := range path {
				dir, pred, ok := strings.Cut(step, ":")
				if !ok {
					return terr.Errorf(terr.CodeCLIInputInvalid, "path step %q must be out:PREDICATE or in:PREDICATE", step)
				}
				switch dir {
				case "out":
					nav.ArchOut(parseValue(pred))
				case "in":
					nav.ArchIn(parseValue(pred))
				default:
					return terr.Errorf(terr.CodeCLIInputInvalid, "path step %q: direction must be out or in", step)
				}
			}
			if as != "" {
				nav.As(as)
			}
			opts := a.db.QueryOptions()
			opts.Annotations = a.annotations(cmd)
			if cmd.Flags().Changed("limit") {
				opts.Limit = limit
			}
			w := cmd.OutOrStdout()
			if all {
				sols, err := a.db.NavSolutions(cmd.Context(), nav, opts)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, executor.SolutionsString(sols))
				return err
			}
			values, err := a.db.NavValues(cmd.Context(), nav, opts)
			if err != nil {
				return err
			}
			for _, v := range values {
				if _, err := fmt.Fprintln(w, triples.Format(v)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&path, "path", nil, "comma separated steps, each out:PREDICATE or in:PREDICATE")
	cmd.Flags().StringVar(&as, "as", "", "name of the final vertex in --all output")
	cmd.Flags().BoolVar(&all, "all", false, "print every solution instead of distinct final vertices")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	return cmd
}
