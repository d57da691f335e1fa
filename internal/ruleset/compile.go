package ruleset

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds the number of distinct compiled line patterns kept
// by a Compiler.
const defaultCacheSize = 256

// LinePatternExpr builds the whole-line expression for a pattern fragment:
// optional leading spaces or tabs, the fragment, then the rest of the line.
// Multiline mode makes ^ and $ match at every line boundary.
//
// The fragment is wrapped in a non-capturing group so an alternation inside
// it stays anchored to the start of the line.
func LinePatternExpr(fragment string) string {
	return `(?m)^[ \t]*(?:` + fragment + `).*$`
}

// Compiler compiles line-pattern fragments into whole-line expressions and
// caches the result, so the same fragment used by several rule groups is
// compiled once.
type Compiler struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewCompiler creates a Compiler holding up to size compiled patterns.
// A non-positive size falls back to the default.
func NewCompiler(size int) *Compiler {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(fmt.Sprintf("ruleset: pattern cache of size %d: %v", size, err))
	}
	return &Compiler{cache: cache}
}

// Compile returns the whole-line expression for fragment.
func (c *Compiler) Compile(fragment string) (*regexp.Regexp, error) {
	if re, ok := c.cache.Get(fragment); ok {
		return re, nil
	}

	re, err := regexp.Compile(LinePatternExpr(fragment))
	if err != nil {
		return nil, fmt.Errorf("invalid line pattern %q: %w", fragment, err)
	}
	c.cache.Add(fragment, re)
	return re, nil
}

// Len returns the number of cached patterns.
func (c *Compiler) Len() int {
	return c.cache.Len()
}
