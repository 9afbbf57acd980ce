// Package argparse looks up single-letter flags in a tokenized command line.
//
// Flags are written as -<letter><value?>, so "-e10" carries the value "10"
// and "-i" is a bare switch.
package argparse

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyArgumentList is returned when there are no tokens to search,
	// including the single-placeholder forms [""] and ["none"].
	ErrEmptyArgumentList = errors.New("argument list is empty")
	// ErrEmptyFlagName means the caller asked for an empty flag.
	ErrEmptyFlagName = errors.New("flag name is empty")
	// ErrMissingFlagValue means the flag was present in value mode but
	// nothing followed the flag letter.
	ErrMissingFlagValue = errors.New("flag has no value")
	// ErrFlagNotFound means no token starts with the flag.
	ErrFlagNotFound = errors.New("flag not found")
)

type Kind string

const (
	KindUsage   Kind = "usage"
	KindRuntime Kind = "runtime"
)

// KindOf classifies err as a caller bug (usage) or operator misuse (runtime).
// Errors that did not come from this package report an empty kind.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrEmptyFlagName):
		return KindUsage
	case errors.Is(err, ErrEmptyArgumentList),
		errors.Is(err, ErrMissingFlagValue),
		errors.Is(err, ErrFlagNotFound):
		return KindRuntime
	default:
		return ""
	}
}

type Result struct {
	Present bool
	Value   string
}

type options struct {
	value bool
}

type Option func(*options)

// WithValue makes Parse return the text after the flag letter and fail with
// ErrMissingFlagValue when there is none.
func WithValue() Option {
	return func(o *options) {
		o.value = true
	}
}

// Parse searches tokens for -<flag>. The first matching token wins.
func Parse(tokens []string, flag string, opts ...Option) (Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if isEmpty(tokens) {
		return Result{}, ErrEmptyArgumentList
	}
	if flag == "" {
		return Result{}, ErrEmptyFlagName
	}

	prefix := "-" + flag
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, prefix) {
			continue
		}

		if !o.value {
			return Result{Present: true}, nil
		}

		value := tok[len(prefix):]
		if value == "" {
			return Result{Present: true}, ErrMissingFlagValue
		}
		return Result{Present: true, Value: value}, nil
	}

	return Result{}, ErrFlagNotFound
}

// Present is the boolean-only form of Parse: every failure reads as false.
func Present(tokens []string, flag string) bool {
	res, err := Parse(tokens, flag)
	return err == nil && res.Present
}

func isEmpty(tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	if len(tokens) == 1 {
		switch strings.TrimSpace(tokens[0]) {
		case "", "none":
			return true
		}
	}
	return false
}
