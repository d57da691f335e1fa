// Package cli implements the cobra-based CLI commands for datapack-builder.
//
// Each subcommand (build, rules, normalize, config) is defined in its own
// file within this package. This file defines the root command that serves
// as the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/datapack-builder/internal/fetch"
	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/pipeline"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches command output (reports, rule listings, errors)
	// to JSON for machine consumption.
	jsonOutput bool

	// verbosity is the number of -v flags; it selects the log level.
	verbosity int

	// logJSON writes log lines as JSON instead of console text.
	logJSON bool

	// configFile is an explicit config file path (--config).
	configFile string
)

// Version, Commit and Date are set at build time via ldflags and injected
// from the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "datapack-builder",
		Short: "Build a Minecraft datapack from a mod repository",
		Long: `datapack-builder fetches a versioned mod source tree, extracts its data
folder, applies a declarative set of text rewrites, repairs the JSON the
rewrites leave behind, and packages the result as a datapack archive.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Setup(cmd.ErrOrStderr(), verbosity, logJSON)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug, -vvv trace)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./datapack.toml if present)")

	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewRulesCommand())
	rootCmd.AddCommand(NewNormalizeCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code matching the
// returned error.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(os.Stderr, cliErr.Message, cliErr.Err)
	} else {
		printError(os.Stderr, err.Error(), nil)
	}
	os.Exit(int(ExitCodeFor(err)))
}

// ExitCodeFor maps an error returned by a command to a process exit code.
// CLIErrors carry their own code; known sentinel errors are classified;
// anything else is a general error.
func ExitCodeFor(err error) model.ExitCode {
	var cliErr *model.CLIError
	switch {
	case err == nil:
		return model.ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.Code
	case errors.Is(err, pipeline.ErrOverlap):
		return model.ExitConfigError
	case errors.Is(err, fetch.ErrNotFound), errors.Is(err, model.ErrNoSourceData):
		return model.ExitSourceNotFound
	case errors.Is(err, fetch.ErrTransport):
		return model.ExitTransportFailure
	case errors.Is(err, pipeline.ErrPackaging):
		return model.ExitPackagingFailed
	case errors.Is(err, pipeline.ErrPublish):
		return model.ExitPublishFailed
	default:
		return model.ExitGeneralError
	}
}

// printError outputs an error message in the format selected by --json.
// Errors always go to stderr; stdout is reserved for command output.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		_, _ = fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		_, _ = fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
