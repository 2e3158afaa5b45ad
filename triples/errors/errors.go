// Package errors provides coded errors for the triple store.
//
// Codes are dotted strings whose last segment is the failure reason, so callers
// can test broad categories (IsInvalidInput, IsStoreFailure) without matching
// every code.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeCodecFieldInvalid Code = "codec.field.invalid"

	CodeQueryPatternInvalid  Code = "query.pattern.invalid"
	CodeQueryBindingConflict Code = "query.binding.conflict"
	CodeQueryOptionInvalid   Code = "query.option.invalid"

	CodeStoreIOFailure       Code = "store.io.failure"
	CodeStoreSizeUnsupported Code = "store.size.unsupported"
	CodeStoreClosed          Code = "store.closed"

	CodeExecutorMergeOrderViolation Code = "executor.merge.order_violation"

	CodeConfigLoadFailure          Code = "config.load.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code of the error chain, or "" when the error carries
// none. oops reports the deepest code, so wrapping an already coded error
// with a different code does not change what CodeOf returns.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_value" || r == "conflict"
}

func IsStoreFailure(err error) bool {
	code := CodeOf(err)
	return strings.HasPrefix(string(code), "store.") && reason(code) == "failure"
}

// Is and As re-export the standard library helpers so callers need only one
// errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func reason(code Code) string {
	s := string(code)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
