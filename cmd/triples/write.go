package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wbrown/janus-triples/triples/database"
)

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put SUBJECT PREDICATE OBJECT",
		Short: "Store a triple",
		Long:  "Store a triple under all six indexes. Numbers and true/false are typed; quote a value (\"42\") to keep it a string.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := parseTriple(args)
			if err := a.db.Put(cmd.Context(), t.Subject, t.Predicate, t.Object); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", t)
			return err
		},
	}
}

func newDelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "del SUBJECT PREDICATE OBJECT",
		Short: "Delete a triple",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := parseTriple(args)
			if err := a.db.Del(cmd.Context(), t.Subject, t.Predicate, t.Object); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", t)
			return err
		},
	}
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE...",
		Short: "Load triples from YAML files",
		Long:  "Load triples from YAML files with a top-level \"triples\" list of [subject, predicate, object] rows. Each file is written as one atomic batch.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				ts, err := LoadTriples(path)
				if err != nil {
					return err
				}
				ops := make([]database.Op, len(ts))
				for i, t := range ts {
					ops[i] = database.Op{Type: database.PutOp, Triple: t}
				}
				if err := a.db.Batch(cmd.Context(), ops); err != nil {
					return err
				}
				a.log.WithField("file", path).WithField("triples", len(ts)).Info("loaded")
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "loaded %d triples from %s\n", len(ts), path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
