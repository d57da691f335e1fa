package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinePatternExpr(t *testing.T) {
	assert.Equal(t, `(?m)^[ \t]*(?:foo).*$`, LinePatternExpr("foo"))
}

// TestCompiler_Caches verifies that a fragment is compiled once and reused.
func TestCompiler_Caches(t *testing.T) {
	c := NewCompiler(4)

	first, err := c.Compile(`"biomes"`)
	require.NoError(t, err)
	second, err := c.Compile(`"biomes"`)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
}

// TestCompiler_Evicts verifies the cache stays within its bound.
func TestCompiler_Evicts(t *testing.T) {
	c := NewCompiler(2)
	for _, f := range []string{"a", "b", "c"} {
		_, err := c.Compile(f)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())
}

// TestNewCompiler_NonPositiveSize verifies that a non-positive size falls
// back to the default bound instead of failing.
func TestNewCompiler_NonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		var c *Compiler
		require.NotPanics(t, func() { c = NewCompiler(size) })

		_, err := c.Compile("foo")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Len())
	}
}

// TestCompiler_Invalid verifies that bad fragments are rejected and not
// cached.
func TestCompiler_Invalid(t *testing.T) {
	c := NewCompiler(0)
	_, err := c.Compile("(unclosed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(unclosed")
	assert.Equal(t, 0, c.Len())
}

// TestCompiler_Matching checks what the whole-line expression matches.
func TestCompiler_Matching(t *testing.T) {
	re, err := NewCompiler(0).Compile("foo|bar")
	require.NoError(t, err)

	assert.True(t, re.MatchString("  foo: 1"))
	assert.True(t, re.MatchString("\tbar"))
	assert.False(t, re.MatchString("x foo"), "fragment must follow only leading whitespace")
	assert.False(t, re.MatchString("x bar"), "alternation stays anchored")
}
