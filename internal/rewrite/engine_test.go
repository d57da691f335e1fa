package rewrite

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/ruleset"
)

// group builds a rule group from raw key/value pairs the same way the
// loader does, so tests exercise real classification and compilation.
func group(t *testing.T, selector string, kv ...string) model.RuleGroup {
	t.Helper()
	require.Zero(t, len(kv)%2, "kv must hold key/value pairs")

	compiler := ruleset.NewCompiler(0)
	g := model.RuleGroup{Selector: selector}
	for i := 0; i < len(kv); i += 2 {
		kind, match := model.ClassifyKey(kv[i])
		r := model.Rule{Kind: kind, Raw: kv[i], Match: match, Replace: kv[i+1]}
		if kind == model.RuleLinePattern {
			re, err := compiler.Compile(match)
			require.NoError(t, err)
			r.Pattern = re
		}
		g.Rules = append(g.Rules, r)
	}
	return g
}

// TestApply_EmptyGroupIsIdentity verifies the identity law.
func TestApply_EmptyGroupIsIdentity(t *testing.T) {
	for _, content := range []string{"", "plain", "{\n  \"a\": 1,\n}\n", "  foo: 1\r\n"} {
		assert.Equal(t, content, Apply(content, model.RuleGroup{Selector: "x"}))
	}
}

// TestApply_Literal verifies that every occurrence is replaced, including
// inside JSON string values.
func TestApply_Literal(t *testing.T) {
	in := `{"id": "OLDID", "parent": "OLDID:base", "note": "keep"}`
	out := Apply(in, group(t, "data/foo.json", "OLDID", "newid"))

	assert.Equal(t, `{"id": "newid", "parent": "newid:base", "note": "keep"}`, out)
	assert.NotContains(t, out, "OLDID")
}

// TestApply_LiteralLeavesNoOccurrences checks that a literal key is fully
// gone after replacement unless the replacement reintroduces it.
func TestApply_LiteralLeavesNoOccurrences(t *testing.T) {
	tests := []struct {
		content, key, replace string
		want                  int
	}{
		{"aaaa", "aa", "b", 0},
		{"mes:a mes:b mes:", "mes:", "moogs:", 0},
		{"x.x.x", ".", "", 0},
		{"abc abc", "abc", "abcabc", 4}, // replacement reintroduces the key
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			out := Apply(tt.content, group(t, "f", tt.key, tt.replace))
			assert.Equal(t, tt.want, strings.Count(out, tt.key))
		})
	}
}

// TestApply_LiteralNonOverlapping verifies left-to-right non-overlapping
// matching.
func TestApply_LiteralNonOverlapping(t *testing.T) {
	assert.Equal(t, "ba", Apply("aaa", group(t, "f", "aa", "b")))
}

// TestApply_EmptyLiteralIsSkipped verifies that an empty literal key is a
// no-op.
func TestApply_EmptyLiteralIsSkipped(t *testing.T) {
	assert.Equal(t, "abc", Apply("abc", group(t, "f", "", "X")))
}

// TestApply_LinePattern verifies whole-line replacement with leading
// whitespace consumed.
func TestApply_LinePattern(t *testing.T) {
	out := Apply("  foo: 1\nbar: 2\n", group(t, "f", "foo->", "foo: 99"))
	assert.Equal(t, "foo: 99\nbar: 2\n", out)
}

// TestApply_LinePatternEveryLine verifies that every matching line is
// replaced and other lines are untouched.
func TestApply_LinePatternEveryLine(t *testing.T) {
	in := strings.Join([]string{
		"{",
		`  "type": "minecraft:jigsaw",`,
		`  "biomes": "#mes:end_highlands",`,
		`  "step": "surface_structures",`,
		`    "biomes": "#mes:nested",`,
		"}",
	}, "\n")
	want := strings.Join([]string{
		"{",
		`  "type": "minecraft:jigsaw",`,
		`  "biomes": "#minecraft:is_end",`,
		`  "step": "surface_structures",`,
		`  "biomes": "#minecraft:is_end",`,
		"}",
	}, "\n")

	out := Apply(in, group(t, "f", `"biomes"->`, `  "biomes": "#minecraft:is_end",`))
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}
}

// TestApply_LinePatternDiscardsMarkerSuffix verifies that text after the
// marker is not part of the pattern.
func TestApply_LinePatternDiscardsMarkerSuffix(t *testing.T) {
	out := Apply("weight: 1\nother: 2\n", group(t, "f", "weight->anything here", "weight: 5"))
	assert.Equal(t, "weight: 5\nother: 2\n", out)
}

// TestApply_LinePatternNotMidLine verifies that the fragment must follow
// only leading whitespace.
func TestApply_LinePatternNotMidLine(t *testing.T) {
	in := "x foo: 1\n"
	assert.Equal(t, in, Apply(in, group(t, "f", "foo->", "foo: 99")))
}

// TestApply_LinePatternLiteralReplacement verifies that "$" in the
// replacement is not expanded.
func TestApply_LinePatternLiteralReplacement(t *testing.T) {
	out := Apply("  price: 1\n", group(t, "f", "price->", "price: $1"))
	assert.Equal(t, "price: $1\n", out)
}

// TestApply_LinePatternEmptyReplacement verifies that an empty replacement
// leaves an empty line behind (later removed by JSON normalization).
func TestApply_LinePatternEmptyReplacement(t *testing.T) {
	in := "{\n  \"forge:conditions\": [],\n  \"a\": 1\n}"
	out := Apply(in, group(t, "f", `"forge:conditions"->`, ""))
	assert.Equal(t, "{\n\n  \"a\": 1\n}", out)
}

// TestApply_Chain verifies that each rule sees the previous rule's output.
func TestApply_Chain(t *testing.T) {
	g := group(t, "f",
		"OLDID", "midid",
		"midid", "newid",
		"id->", "id: final",
	)
	out := Apply("OLDID\n  id OLDID\n", g)
	assert.Equal(t, "newid\nid: final\n", out)
}

// writeFile creates a file under root with the given content and mode.
func writeFile(t *testing.T, root, rel, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	return p
}

// TestEngine_RewriteFile verifies the read-transform-write cycle.
func TestEngine_RewriteFile(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "data/foo.json", `{"id": "OLDID"}`, 0o600)

	e := NewEngine(root)
	res := e.RewriteFile(model.NewTargetFile("data/foo.json"), group(t, "data/foo.json", "OLDID", "newid", "absent", "x"))

	require.True(t, res.OK(), res.String())
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.RulesApplied)
	assert.Equal(t, model.StageRewritten, res.Stage)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, `{"id": "newid"}`, string(data))

	info, err := os.Stat(p)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "permissions are preserved")
	}
}

// TestEngine_RewriteFileUnchanged verifies that a file no rule matches is
// reported unchanged.
func TestEngine_RewriteFileUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello", 0o644)

	res := NewEngine(root).RewriteFile(model.NewTargetFile("a.txt"), group(t, "a.txt", "bye", "x"))
	assert.True(t, res.OK())
	assert.False(t, res.Changed)
	assert.Zero(t, res.RulesApplied)
}

// TestEngine_RewriteFileIOFailure verifies that a missing file becomes a
// recoverable FailureIO result instead of an error.
func TestEngine_RewriteFileIOFailure(t *testing.T) {
	res := NewEngine(t.TempDir()).RewriteFile(model.NewTargetFile("gone.json"), group(t, "gone.json", "a", "b"))

	assert.False(t, res.OK())
	assert.Equal(t, model.FailureIO, res.Failure)
	assert.Equal(t, "gone.json", res.Path)
	assert.Equal(t, "gone.json", res.Selector)
	require.Error(t, res.Err)
}

// TestEngine_RewriteAll verifies that a failure on one file does not stop
// the others.
func TestEngine_RewriteAll(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "d/a.txt", "OLD", 0o644)
	writeFile(t, root, "d/c.txt", "OLD", 0o644)

	targets := []model.TargetFile{
		model.NewTargetFile("d/a.txt"),
		model.NewTargetFile("d/b.txt"), // does not exist
		model.NewTargetFile("d/c.txt"),
	}
	results := NewEngine(root).RewriteAll(targets, group(t, "d", "OLD", "NEW"))

	require.Len(t, results, 3)
	assert.True(t, results[0].Changed)
	assert.Equal(t, model.FailureIO, results[1].Failure)
	assert.True(t, results[2].Changed)

	data, err := os.ReadFile(filepath.Join(root, "d", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(data))
}
