package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/wbrown/janus-triples/triples/metrics"
	"github.com/wbrown/janus-triples/triples/query"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics and the metrics of this run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			everything := query.P("?s", "?p", "?o")
			count, err := a.db.Count(ctx, everything)
			if err != nil {
				return err
			}
			size, err := a.db.ApproximateSize(ctx, everything)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			heading := color.New(color.FgCyan, color.Bold)
			fmt.Fprintln(out, heading.Sprint("Store"))
			fmt.Fprintf(out, "  backend:  %s\n", a.cfg.Storage.Backend)
			fmt.Fprintf(out, "  triples:  %d\n", count)
			fmt.Fprintf(out, "  size:     ~%d bytes per index\n", size)

			samples, err := metrics.Snapshot(a.registry)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, heading.Sprint("Metrics"))
			table := tablewriter.NewTable(out, tablewriter.WithHeaderAutoFormat(tw.Off))
			table.Header([]string{"metric", "label", "value"})
			for _, s := range samples {
				table.Append([]string{s.Name, s.Label, strconv.FormatFloat(s.Value, 'f', -1, 64)})
			}
			return table.Render()
		},
	}
}
