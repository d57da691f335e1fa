package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shinji-kodama/datapack-builder/internal/model"
)

// printReport writes a build report in the format selected by --json.
func printReport(w io.Writer, report *model.Report) {
	if IsJSONOutput() {
		printReportJSON(w, report)
	} else {
		printReportText(w, report)
	}
}

type failureJSON struct {
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Path     string `json:"path,omitempty"`
	Selector string `json:"selector,omitempty"`
	Error    string `json:"error,omitempty"`
}

type reportJSON struct {
	Stage           string        `json:"stage"`
	OutputDir       string        `json:"outputDir"`
	FilesRewritten  int           `json:"filesRewritten"`
	FilesNormalized int           `json:"filesNormalized"`
	ArchivePath     string        `json:"archivePath,omitempty"`
	PublishedURL    string        `json:"publishedUrl,omitempty"`
	Failures        []failureJSON `json:"failures"`
}

func toReportJSON(report *model.Report) reportJSON {
	result := reportJSON{
		Stage:           report.Stage.String(),
		OutputDir:       report.OutputDir,
		FilesRewritten:  report.FilesRewritten,
		FilesNormalized: report.FilesNormalized,
		ArchivePath:     report.ArchivePath,
		PublishedURL:    report.PublishedURL,
		Failures:        []failureJSON{},
	}
	for _, f := range report.Failures {
		fj := failureJSON{
			Stage:    f.Stage.String(),
			Kind:     f.Failure.String(),
			Path:     f.Path,
			Selector: f.Selector,
		}
		if f.Err != nil {
			fj.Error = f.Err.Error()
		}
		result.Failures = append(result.Failures, fj)
	}
	return result
}

func printReportJSON(w io.Writer, report *model.Report) {
	data, _ := json.MarshalIndent(toReportJSON(report), "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

func printReportText(w io.Writer, report *model.Report) {
	if report.Stage == model.StageReady {
		_, _ = fmt.Fprintf(w, "Built datapack in %s\n", report.OutputDir)
	} else {
		_, _ = fmt.Fprintf(w, "Build stopped at stage %q\n", report.Stage)
	}
	_, _ = fmt.Fprintf(w, "  Rewritten:   %d file(s)\n", report.FilesRewritten)
	_, _ = fmt.Fprintf(w, "  Normalized:  %d file(s)\n", report.FilesNormalized)
	if report.ArchivePath != "" {
		_, _ = fmt.Fprintf(w, "  Archive:     %s\n", report.ArchivePath)
	}
	if report.PublishedURL != "" {
		_, _ = fmt.Fprintf(w, "  Published:   %s\n", report.PublishedURL)
	}

	if !report.HasFailures() {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  Failures (%d):\n", len(report.Failures))
	for _, f := range report.Failures {
		_, _ = fmt.Fprintf(w, "    [%s] %s\n", f.Stage, f.String())
	}
}
