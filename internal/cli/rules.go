// "rules check" loads a ruleset, lints it and prints the rules it would
// apply.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/ruleset"
)

// NewRulesCommand creates the "rules" command group.
func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rulesets",
	}
	cmd.AddCommand(newRulesCheckCommand())
	return cmd
}

func newRulesCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Load and lint a ruleset",
		Long: `Load a ruleset, report configuration problems and lint findings, and
list every rule in application order.

Exits with code 2 when the ruleset cannot be loaded completely or a lint
error is found. Warnings do not change the exit code.

Examples:
  datapack-builder rules check rules.json
  datapack-builder rules check --json rules.yaml`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(cmd.OutOrStdout(), args[0])
		},
	}
}

func runRulesCheck(w io.Writer, path string) error {
	rs, loadErr := ruleset.Load(path)
	findings := ruleset.Validate(rs)

	var cfgErr *model.ConfigurationError
	if loadErr != nil && !errors.As(loadErr, &cfgErr) {
		return model.WrapCLIError(model.ExitConfigError, "failed to load ruleset", loadErr)
	}

	if IsJSONOutput() {
		printRulesJSON(w, path, rs, cfgErr, findings)
	} else {
		printRulesText(w, rs, cfgErr, findings)
	}

	switch {
	case cfgErr != nil:
		return model.WrapCLIError(model.ExitConfigError, "ruleset has configuration errors", cfgErr)
	case ruleset.HasErrors(findings):
		return model.NewCLIError(model.ExitConfigError, "ruleset has lint errors")
	}
	return nil
}

type ruleJSON struct {
	Selector string `json:"selector"`
	Kind     string `json:"kind"`
	Key      string `json:"key"`
	Match    string `json:"match"`
	Replace  string `json:"replace"`
}

type findingJSON struct {
	Severity string `json:"severity"`
	Selector string `json:"selector"`
	Key      string `json:"key,omitempty"`
	Message  string `json:"message"`
}

func printRulesJSON(w io.Writer, path string, rs model.RuleSet, cfgErr *model.ConfigurationError, findings []ruleset.ValidationError) {
	type resultJSON struct {
		Path     string        `json:"path"`
		Groups   int           `json:"groups"`
		Rules    []ruleJSON    `json:"rules"`
		Issues   []string      `json:"issues"`
		Findings []findingJSON `json:"findings"`
	}

	result := resultJSON{
		Path:     path,
		Groups:   len(rs.Groups),
		Rules:    []ruleJSON{},
		Issues:   []string{},
		Findings: []findingJSON{},
	}
	for _, g := range rs.Groups {
		for _, r := range g.Rules {
			result.Rules = append(result.Rules, ruleJSON{
				Selector: g.Selector,
				Kind:     r.Kind.String(),
				Key:      r.Raw,
				Match:    r.Match,
				Replace:  r.Replace,
			})
		}
	}
	if cfgErr != nil {
		result.Issues = append(result.Issues, cfgErr.Issues...)
	}
	for _, f := range findings {
		result.Findings = append(result.Findings, findingJSON{
			Severity: string(f.Severity),
			Selector: f.Selector,
			Key:      f.Key,
			Message:  f.Message,
		})
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

func printRulesText(w io.Writer, rs model.RuleSet, cfgErr *model.ConfigurationError, findings []ruleset.ValidationError) {
	_, _ = fmt.Fprintf(w, "%d group(s), %d rule(s)\n", len(rs.Groups), rs.RuleCount())

	if !rs.IsEmpty() {
		_, _ = fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "SELECTOR\tKIND\tMATCH\tREPLACE")
		for _, g := range rs.Groups {
			for _, r := range g.Rules {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%q\t%q\n", g.Selector, r.Kind, r.Match, r.Replace)
			}
		}
		_ = tw.Flush()
	}

	if cfgErr != nil {
		_, _ = fmt.Fprintln(w)
		for _, issue := range cfgErr.Issues {
			_, _ = fmt.Fprintf(w, "error: %s\n", issue)
		}
	}
	if len(findings) > 0 {
		_, _ = fmt.Fprintln(w)
		for _, f := range findings {
			_, _ = fmt.Fprintln(w, f.Error())
		}
	}
}
