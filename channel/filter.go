package channel

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters emissions per sink using glob patterns over singular
// model names. Empty patterns match everything.
type GlobFilter struct {
	modelGlobs []glob.Glob
}

// NewGlobFilter compiles the given patterns into a filter.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		modelGlobs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q: %w", pattern, err)
		}
		filter.modelGlobs = append(filter.modelGlobs, g)
	}

	return filter, nil
}

// Match returns true if the model matches any configured pattern.
// With no patterns configured, every model matches.
func (f *GlobFilter) Match(model string) bool {
	if len(f.modelGlobs) == 0 {
		return true
	}

	for _, g := range f.modelGlobs {
		if g.Match(model) {
			return true
		}
	}
	return false
}
