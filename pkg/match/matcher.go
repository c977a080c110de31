// Package match evaluates glob patterns against job and experiment
// names, selecting which jobs a command operates on.
package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates patterns against display names.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: a name must match at least one
//   - Exclude patterns: a name must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes []string
	excludes []string
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a name must match (at least one).
	// Required: at least one include pattern must be specified.
	Includes []string

	// Excludes are glob patterns a name must not match (any).
	// Optional: if empty, no excludes are applied.
	Excludes []string
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher from the given configuration.
//
// Returns an error if no include patterns are provided or if any
// pattern cannot be compiled.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}
	for _, raw := range append(append([]string{}, cfg.Includes...), cfg.Excludes...) {
		if !doublestar.ValidatePattern(raw) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
	}
	return &Matcher{
		includes: append([]string{}, cfg.Includes...),
		excludes: append([]string{}, cfg.Excludes...),
	}, nil
}

// Match reports whether the name matches at least one include pattern
// and no exclude pattern.
func (m *Matcher) Match(name string) bool {
	included := false
	for _, p := range m.includes {
		if ok, _ := doublestar.Match(p, name); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range m.excludes {
		if ok, _ := doublestar.Match(p, name); ok {
			return false
		}
	}
	return true
}
