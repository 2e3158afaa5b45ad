// Package config loads engine and CLI settings from defaults, an optional
// YAML file and TRIPLES_ environment variables.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/planner"
)

// Config is the top-level configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Query   QueryConfig   `mapstructure:"query"`
	Log     LogConfig     `mapstructure:"log"`
	Verbose bool          `mapstructure:"verbose"`
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	SizeScanLimit int    `mapstructure:"size_scan_limit"`
}

// QueryConfig holds query execution defaults.
type QueryConfig struct {
	Join         string `mapstructure:"join"`
	BufferSize   int    `mapstructure:"buffer_size"`
	DefaultLimit int    `mapstructure:"default_limit"`
}

// LogConfig controls operational logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Backends
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendBadger)
	v.SetDefault("storage.path", "./triples-data")
	v.SetDefault("storage.size_scan_limit", 100000)
	v.SetDefault("query.join", planner.SortMerge.String())
	v.SetDefault("query.buffer_size", 16)
	v.SetDefault("query.default_limit", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("verbose", false)
}

// SetupEnv makes v read TRIPLES_ variables, with dots in keys replaced by
// underscores (TRIPLES_STORAGE_PATH).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("TRIPLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, terr.Wrapf(err, terr.CodeConfigLoadFailure, "reading config %s", path)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, terr.Wrap(err, terr.CodeConfigLoadFailure, "unmarshalling config")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, terr.Wrap(errors.Join(errs...), terr.CodeConfigValidateInvalidValue, "validating config")
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns every
// problem found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, terr.Errorf(terr.CodeConfigValidateInvalidValue, format, args...))
	}

	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.Path == "" {
			invalid("config: storage.path must not be empty for the badger backend")
		}
	case BackendMemory:
	default:
		invalid("config: storage.backend must be one of [badger, memory], got %q", c.Storage.Backend)
	}
	if c.Storage.SizeScanLimit < 0 {
		invalid("config: storage.size_scan_limit must not be negative, got %d", c.Storage.SizeScanLimit)
	}

	if _, err := planner.ParseJoinStrategy(c.Query.Join); err != nil {
		invalid("config: query.join must be one of [sortMerge, nestedLoop], got %q", c.Query.Join)
	}
	if c.Query.BufferSize <= 0 {
		invalid("config: query.buffer_size must be greater than 0, got %d", c.Query.BufferSize)
	}
	if c.Query.DefaultLimit < 0 {
		invalid("config: query.default_limit must not be negative, got %d", c.Query.DefaultLimit)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		invalid("config: log.level %q is not a valid level", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		invalid("config: log.format must be one of [text, json], got %q", c.Log.Format)
	}
	return errs
}

// JoinStrategy returns the configured join algorithm.
func (c *Config) JoinStrategy() planner.JoinStrategy {
	s, _ := planner.ParseJoinStrategy(c.Query.Join)
	return s
}

// NewLogger builds a logrus logger writing to stderr with the configured
// level and format. Verbose forces the debug level.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Verbose && log.GetLevel() < logrus.DebugLevel {
		log.SetLevel(logrus.DebugLevel)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
