package ruleset

import (
	"fmt"
	"path"
	"strings"

	"github.com/shinji-kodama/datapack-builder/internal/model"
)

// Severity grades a validation finding.
type Severity string

const (
	// SeverityError marks a rule that cannot do what its author meant.
	SeverityError Severity = "error"

	// SeverityWarning marks a rule that works but is likely to produce
	// surprising output.
	SeverityWarning Severity = "warning"
)

// ValidationError represents a single finding about a loaded rule set.
type ValidationError struct {
	// Selector is the rule group the finding belongs to.
	Selector string

	// Key is the raw match key, empty for group-level findings.
	Key string

	// Severity grades the finding.
	Severity Severity

	// Message describes what's wrong.
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %s", e.Severity, e.Selector, e.Message)
	}
	return fmt.Sprintf("%s: %s: %q: %s", e.Severity, e.Selector, e.Key, e.Message)
}

// jsonStructural holds the characters that can break a JSON document when
// substituted as raw text.
const jsonStructural = "\"{}[]"

// Validate lints a loaded rule set. It returns every finding in rule set
// order (empty slice = nothing to report).
//
// Checks performed:
//   - selector is non-empty, relative and stays inside the output root
//   - literal match keys are non-empty
//   - line-pattern fragments are non-empty (an empty fragment matches every line)
//   - replacements aimed at .json selectors do not contain JSON structural
//     characters (the rewrite is textual, so these can produce invalid JSON)
//   - literals aimed at .json selectors do not delete their match outright
func Validate(rs model.RuleSet) []ValidationError {
	var findings []ValidationError

	for _, g := range rs.Groups {
		findings = append(findings, validateSelector(g.Selector)...)

		jsonTarget := model.ContentTypeOf(g.Selector) == model.ContentJSON
		for _, r := range g.Rules {
			switch r.Kind {
			case model.RuleLiteral:
				if r.Match == "" {
					findings = append(findings, ValidationError{
						Selector: g.Selector, Key: r.Raw, Severity: SeverityError,
						Message: "empty literal match key is never applied",
					})
				}
				if r.Match != "" && r.Replace == "" && jsonTarget {
					findings = append(findings, ValidationError{
						Selector: g.Selector, Key: r.Raw, Severity: SeverityWarning,
						Message: "empty replacement may leave a dangling comma on the previous line, which normalization does not remove",
					})
				}
			case model.RuleLinePattern:
				if strings.TrimSpace(r.Match) == "" {
					findings = append(findings, ValidationError{
						Selector: g.Selector, Key: r.Raw, Severity: SeverityError,
						Message: "empty line pattern replaces every line of the file",
					})
				}
			}

			if jsonTarget && strings.ContainsAny(r.Replace, jsonStructural) {
				findings = append(findings, ValidationError{
					Selector: g.Selector, Key: r.Raw, Severity: SeverityWarning,
					Message: "replacement contains JSON structural characters and may produce invalid JSON",
				})
			}
		}
	}

	return findings
}

func validateSelector(selector string) []ValidationError {
	switch {
	case strings.TrimSpace(selector) == "":
		return []ValidationError{{Selector: selector, Severity: SeverityError, Message: "selector is empty"}}
	case path.IsAbs(selector) || strings.HasPrefix(selector, "\\") || (len(selector) > 1 && selector[1] == ':'):
		return []ValidationError{{Selector: selector, Severity: SeverityError, Message: "selector must be relative to the output root"}}
	case escapesRoot(selector):
		return []ValidationError{{Selector: selector, Severity: SeverityError, Message: "selector escapes the output root"}}
	}
	return nil
}

// escapesRoot reports whether a relative selector climbs above its root.
func escapesRoot(selector string) bool {
	cleaned := path.Clean(strings.ReplaceAll(selector, "\\", "/"))
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

// HasErrors reports whether any finding has error severity.
func HasErrors(findings []ValidationError) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
