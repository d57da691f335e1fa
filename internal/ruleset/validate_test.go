package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/datapack-builder/internal/model"
)

func literal(match, replace string) model.Rule {
	return model.Rule{Kind: model.RuleLiteral, Raw: match, Match: match, Replace: replace}
}

func linePattern(t *testing.T, raw, replace string) model.Rule {
	t.Helper()
	kind, match := model.ClassifyKey(raw)
	require.Equal(t, model.RuleLinePattern, kind)
	re, err := NewCompiler(0).Compile(match)
	require.NoError(t, err)
	return model.Rule{Kind: kind, Raw: raw, Match: match, Replace: replace, Pattern: re}
}

// TestValidate_Clean verifies that a well-formed rule set has no findings.
func TestValidate_Clean(t *testing.T) {
	rs := model.RuleSet{Groups: []model.RuleGroup{
		{Selector: "data/ns/worldgen", Rules: []model.Rule{literal("mes:", "moogs_end_structures:")}},
		{Selector: "data/ns/tags/a.json", Rules: []model.Rule{literal("OLDID", "newid")}},
		{Selector: "pack.mcmeta", Rules: []model.Rule{linePattern(t, "\"description\"->", "  \"description\": \"x\"")}},
	}}

	assert.Empty(t, Validate(rs))
}

// TestValidate_Findings checks every category of finding.
func TestValidate_Findings(t *testing.T) {
	tests := []struct {
		name     string
		group    model.RuleGroup
		severity Severity
		contains string
	}{
		{
			name:     "empty selector",
			group:    model.RuleGroup{Selector: " ", Rules: []model.Rule{literal("a", "b")}},
			severity: SeverityError,
			contains: "selector is empty",
		},
		{
			name:     "absolute selector",
			group:    model.RuleGroup{Selector: "/etc/passwd", Rules: []model.Rule{literal("a", "b")}},
			severity: SeverityError,
			contains: "relative",
		},
		{
			name:     "windows drive selector",
			group:    model.RuleGroup{Selector: `C:\data`, Rules: []model.Rule{literal("a", "b")}},
			severity: SeverityError,
			contains: "relative",
		},
		{
			name:     "escaping selector",
			group:    model.RuleGroup{Selector: "data/../../secret", Rules: []model.Rule{literal("a", "b")}},
			severity: SeverityError,
			contains: "escapes",
		},
		{
			name:     "empty literal",
			group:    model.RuleGroup{Selector: "data", Rules: []model.Rule{literal("", "b")}},
			severity: SeverityError,
			contains: "empty literal",
		},
		{
			name:     "empty line pattern",
			group:    model.RuleGroup{Selector: "data", Rules: []model.Rule{linePattern(t, "->", "x")}},
			severity: SeverityError,
			contains: "every line",
		},
		{
			name:     "structural replacement in json target",
			group:    model.RuleGroup{Selector: "data/a.json", Rules: []model.Rule{literal("OLD", `{"x": 1}`)}},
			severity: SeverityWarning,
			contains: "invalid JSON",
		},
		{
			name:     "empty literal replacement in json target",
			group:    model.RuleGroup{Selector: "data/a.json", Rules: []model.Rule{literal(`"OLD"`, "")}},
			severity: SeverityWarning,
			contains: "dangling comma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := Validate(model.RuleSet{Groups: []model.RuleGroup{tt.group}})
			require.Len(t, findings, 1)
			assert.Equal(t, tt.severity, findings[0].Severity)
			assert.Contains(t, findings[0].Error(), tt.contains)
			assert.Equal(t, tt.severity == SeverityError, HasErrors(findings))
		})
	}
}

// TestValidate_StructuralOnlyForJSON verifies the JSON warning is scoped to
// .json selectors.
func TestValidate_StructuralOnlyForJSON(t *testing.T) {
	rs := model.RuleSet{Groups: []model.RuleGroup{
		{Selector: "data/functions/load.mcfunction", Rules: []model.Rule{literal("OLD", `{"x": 1}`)}},
	}}
	assert.Empty(t, Validate(rs))
}

// TestValidate_EmptyReplacementScope verifies the dangling comma warning is
// limited to literals aimed at .json selectors.
func TestValidate_EmptyReplacementScope(t *testing.T) {
	rs := model.RuleSet{Groups: []model.RuleGroup{
		{Selector: "data/functions/load.mcfunction", Rules: []model.Rule{literal("OLD", "")}},
		{Selector: "data/a.json", Rules: []model.Rule{linePattern(t, "\"forge:conditions\"->", "")}},
	}}
	assert.Empty(t, Validate(rs))
}

// TestValidationError_Error verifies formatting with and without a key.
func TestValidationError_Error(t *testing.T) {
	group := ValidationError{Selector: "/abs", Severity: SeverityError, Message: "selector must be relative to the output root"}
	assert.Equal(t, "error: /abs: selector must be relative to the output root", group.Error())

	rule := ValidationError{Selector: "data", Key: "->", Severity: SeverityError, Message: "empty"}
	assert.Equal(t, `error: data: "->": empty`, rule.Error())
}
