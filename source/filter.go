package source

import (
	"fmt"

	"github.com/gobwas/glob"
)

// NameFilter selects sources by glob patterns on their names,
// e.g. "Telemetry-*". A filter with no patterns matches nothing.
type NameFilter struct {
	patterns []string
	globs    []glob.Glob
}

// NewNameFilter compiles the given patterns
func NewNameFilter(patterns []string) (*NameFilter, error) {
	filter := &NameFilter{
		patterns: make([]string, 0, len(patterns)),
		globs:    make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid source pattern %q: %w", pattern, err)
		}
		filter.patterns = append(filter.patterns, pattern)
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Match returns true if name matches any pattern
func (f *NameFilter) Match(name string) bool {
	for _, g := range f.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns the filter was built from
func (f *NameFilter) Patterns() []string {
	return f.patterns
}
