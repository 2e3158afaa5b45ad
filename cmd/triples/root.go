package main

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wbrown/janus-triples/triples/annotations"
	"github.com/wbrown/janus-triples/triples/config"
	"github.com/wbrown/janus-triples/triples/database"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/metrics"
	"github.com/wbrown/janus-triples/triples/storage"
)

// skipDatabase marks commands that run without opening a store.
const skipDatabase = "skip-database"

// app is the state shared by the subcommands of one invocation.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	log      *logrus.Logger
	db       *database.Database
	store    *storage.Instrumented
	registry *prometheus.Registry
}

// Execute runs the CLI with args. The database is closed afterwards even
// when the command fails.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{v: viper.New()}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// newRootCmd creates the root triples command with all subcommands registered.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "triples",
		Short:         "Triple store with a streaming join engine",
		Long:          "triples stores subject/predicate/object triples under six permutation indexes and answers conjunctive pattern queries with nested-loop and sort-merge joins.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			if cmd.Annotations[skipDatabase] != "" {
				return nil
			}
			return a.open()
		},
	}

	// Global flags; they override the matching config keys.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("db", "", "database directory (storage.path)")
	root.PersistentFlags().String("backend", "", "storage backend: badger or memory (storage.backend)")
	root.PersistentFlags().BoolP("verbose", "v", false, "print query execution events")
	root.PersistentFlags().String("log-level", "", "log level (log.level)")

	root.AddCommand(
		newPutCmd(a),
		newDelCmd(a),
		newLoadCmd(a),
		newGetCmd(a),
		newSizeCmd(a),
		newQueryCmd(a),
		newExplainCmd(a),
		newNavCmd(a),
		newStatsCmd(a),
		newDemoCmd(a),
		newVersionCmd(),
	)
	return root
}

// init resolves the configuration with the precedence
// flag > env > file > defaults.
func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return terr.Wrapf(err, terr.CodeConfigLoadFailure, "reading config file %s", cfgFile)
		}
	}

	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"storage.path":    "db",
		"storage.backend": "backend",
		"verbose":         "verbose",
		"log.level":       "log-level",
	} {
		f := flags.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return terr.Wrapf(err, terr.CodeCLIInputInvalid, "binding %s flag", flag)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.NewLogger()
	a.log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func (a *app) open() error {
	a.registry = prometheus.NewRegistry()
	reg := metrics.Registry{R: a.registry}

	var backend storage.Store
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		backend = storage.NewMemoryStore().WithSizeScanLimit(a.cfg.Storage.SizeScanLimit)
	default:
		s, err := storage.NewBadgerStoreWithOptions(storage.BadgerOptions{
			Path:          a.cfg.Storage.Path,
			Logger:        a.log,
			SizeScanLimit: a.cfg.Storage.SizeScanLimit,
		})
		if err != nil {
			return err
		}
		backend = s
	}
	a.store = storage.NewInstrumented(backend, metrics.NewStore(reg))
	a.db = database.New(a.store, database.Options{
		Logger:       a.log,
		Join:         a.cfg.JoinStrategy(),
		BufferSize:   a.cfg.Query.BufferSize,
		DefaultLimit: a.cfg.Query.DefaultLimit,
		Metrics:      metrics.NewQuery(reg),
	})
	a.log.WithFields(logrus.Fields{
		"backend": a.cfg.Storage.Backend,
		"path":    a.cfg.Storage.Path,
	}).Debug("database opened")
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// annotations returns a collector printing events to stderr in verbose
// mode, and nil otherwise.
func (a *app) annotations(cmd *cobra.Command) *annotations.Collector {
	if !a.cfg.Verbose {
		return nil
	}
	return annotations.NewStreamingCollector(annotations.NewOutputFormatter(cmd.ErrOrStderr()).Handle)
}
