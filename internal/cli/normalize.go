package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/normalize"
)

// NewNormalizeCommand creates the "normalize" command, which runs only the
// JSON repair stage over an existing directory.
func NewNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <dir>",
		Short: "Remove trailing commas and blank lines from JSON files",
		Long: `Normalize every .json file below a directory in place: drop commas
that directly precede a closing bracket and delete blank lines. Other files
are left alone.

Examples:
  datapack-builder normalize datapack_output
  datapack-builder normalize --json datapack_output/data`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd.OutOrStdout(), args[0])
		},
	}
}

func runNormalize(w io.Writer, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return model.WrapCLIError(model.ExitSourceNotFound, "directory not found", err)
	}
	if !info.IsDir() {
		return model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("%s is not a directory", dir))
	}

	results, err := normalize.New(dir).Tree()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to walk directory", err)
	}

	report := &model.Report{Stage: model.StageNormalized, OutputDir: dir}
	for _, res := range results {
		report.Record(res)
	}

	if IsJSONOutput() {
		printNormalizeJSON(w, len(results), report)
	} else {
		printNormalizeText(w, len(results), report)
	}

	if report.HasFailures() {
		return model.NewCLIError(model.ExitPartialFailure,
			fmt.Sprintf("%d file(s) could not be normalized", len(report.Failures)))
	}
	return nil
}

func printNormalizeJSON(w io.Writer, scanned int, report *model.Report) {
	view := toReportJSON(report)
	data, _ := json.MarshalIndent(struct {
		Dir      string        `json:"dir"`
		Scanned  int           `json:"scanned"`
		Changed  int           `json:"changed"`
		Failures []failureJSON `json:"failures"`
	}{
		Dir:      report.OutputDir,
		Scanned:  scanned,
		Changed:  report.FilesNormalized,
		Failures: view.Failures,
	}, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

func printNormalizeText(w io.Writer, scanned int, report *model.Report) {
	_, _ = fmt.Fprintf(w, "Normalized %d of %d JSON file(s) in %s\n",
		report.FilesNormalized, scanned, report.OutputDir)
	for _, f := range report.Failures {
		_, _ = fmt.Fprintf(w, "  %s\n", f.String())
	}
}
