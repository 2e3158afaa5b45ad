package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/wbrown/janus-triples/triples"
	terr "github.com/wbrown/janus-triples/triples/errors"
	"github.com/wbrown/janus-triples/triples/executor"
	"github.com/wbrown/janus-triples/triples/planner"
	"github.com/wbrown/janus-triples/triples/query"
	"gopkg.in/yaml.v3"
)

// parseValue reads a command-line value. Integers, floats and true/false are
// typed; anything else is a string. Double quotes force a string, so "42" is
// the string 42.
func parseValue(s string) triples.Value {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.ContainsAny(s, ".eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// parseTerm reads a pattern term: ?name is a variable, _ is a blank.
func parseTerm(s string) query.Term {
	switch {
	case s == "_":
		return query.Blank{}
	case len(s) > 1 && s[0] == '?':
		return query.V(s[1:])
	}
	return query.C(parseValue(s))
}

// parsePattern reads a pattern written as "s p o".
func parsePattern(s string) (query.Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return query.Pattern{}, terr.Errorf(terr.CodeCLIInputInvalid, "pattern %q must have three terms", s)
	}
	return query.Pattern{
		Subject:   parseTerm(fields[0]),
		Predicate: parseTerm(fields[1]),
		Object:    parseTerm(fields[2]),
	}, nil
}

// patternFromArgs reads three arguments as a pattern; unlike parsePattern
// the terms may contain spaces.
func patternFromArgs(args []string) query.Pattern {
	return query.Pattern{Subject: parseTerm(args[0]), Predicate: parseTerm(args[1]), Object: parseTerm(args[2])}
}

func parsePatterns(specs []string) ([]query.Pattern, error) {
	out := make([]query.Pattern, 0, len(specs))
	for _, s := range specs {
		p, err := parsePattern(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// parseTriple reads three arguments as a triple.
func parseTriple(args []string) triples.Triple {
	return triples.T(parseValue(args[0]), parseValue(args[1]), parseValue(args[2]))
}

// TriplesFile is the YAML layout of a data file:
//
//	triples:
//	  - [alice, knows, bob]
//	  - [alice, age, 30]
type TriplesFile struct {
	Triples [][]interface{} `yaml:"triples"`
}

// QueryFile is the YAML layout of a query file. Pattern terms are strings
// like "?x" and "_" or plain YAML scalars for constants.
type QueryFile struct {
	Patterns [][]interface{}        `yaml:"patterns"`
	Join     string                 `yaml:"join"`
	Limit    int                    `yaml:"limit"`
	Offset   int                    `yaml:"offset"`
	Bind     map[string]interface{} `yaml:"bind"`
	Select   map[string]interface{} `yaml:"select"`
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return terr.Wrapf(err, terr.CodeCLIInputInvalid, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return terr.Wrapf(err, terr.CodeCLIInputInvalid, "parsing %s", path)
	}
	return nil
}

// LoadTriples reads a data file.
func LoadTriples(path string) ([]triples.Triple, error) {
	var f TriplesFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	out := make([]triples.Triple, 0, len(f.Triples))
	for i, row := range f.Triples {
		if len(row) != 3 {
			return nil, terr.Errorf(terr.CodeCLIInputInvalid, "%s: triple %d has %d fields", path, i, len(row))
		}
		out = append(out, triples.T(row[0], row[1], row[2]))
	}
	return out, nil
}

// yamlTerm converts a decoded YAML scalar to a term.
func yamlTerm(v interface{}) query.Term {
	if s, ok := v.(string); ok {
		return parseTerm(s)
	}
	return query.ParseTerm(v)
}

// Compile turns the file into patterns and applies its settings to opts.
// Settings left empty in the file keep the values already in opts.
func (q *QueryFile) Compile(opts *executor.Options) ([]query.Pattern, error) {
	patterns := make([]query.Pattern, 0, len(q.Patterns))
	for i, row := range q.Patterns {
		if len(row) != 3 {
			return nil, terr.Errorf(terr.CodeCLIInputInvalid, "pattern %d has %d terms", i, len(row))
		}
		patterns = append(patterns, query.Pattern{
			Subject:   yamlTerm(row[0]),
			Predicate: yamlTerm(row[1]),
			Object:    yamlTerm(row[2]),
		})
	}
	if q.Join != "" {
		join, err := planner.ParseJoinStrategy(q.Join)
		if err != nil {
			return nil, terr.Wrap(err, terr.CodeCLIInputInvalid, "bad join")
		}
		opts.JoinAlgorithm = join
	}
	if q.Limit != 0 {
		opts.Limit = q.Limit
	}
	if q.Offset != 0 {
		opts.Offset = q.Offset
	}
	if len(q.Bind) > 0 {
		initial, err := query.NewSolution(q.Bind)
		if err != nil {
			return nil, err
		}
		opts.InitialSolution = initial
	}
	if len(q.Select) > 0 {
		tmpl := query.Template{}
		for name, v := range q.Select {
			tmpl[name] = yamlTerm(v)
		}
		opts.Materialized = tmpl
	}
	return patterns, nil
}
