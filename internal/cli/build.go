// The build command runs these steps:
//  1. Merge configuration (defaults, datapack.toml, .env, environment, flags)
//  2. Load the ruleset; a missing or malformed ruleset is reported, not fatal
//  3. Fetch the source tree (git or archive) unless --source is given
//  4. Run the transform pipeline into the output directory
//  5. Zip the output directory and optionally publish the archive
//  6. Print the report (text or JSON)

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/datapack-builder/internal/config"
	"github.com/shinji-kodama/datapack-builder/internal/fetch"
	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/packaging"
	"github.com/shinji-kodama/datapack-builder/internal/pipeline"
	"github.com/shinji-kodama/datapack-builder/internal/ruleset"
)

// buildFlag binds a command-line flag to the config key it overrides.
type buildFlag struct {
	name string
	key  string
}

// stringFlags and boolFlags override config keys only when set explicitly.
var (
	stringFlags = []buildFlag{
		{"repo", "source.repository"},
		{"ref", "source.ref"},
		{"method", "source.method"},
		{"data-path", "source.data_path"},
		{"source", "source.local"},
		{"rules", "rules.path"},
		{"output", "output.dir"},
		{"name", "output.name"},
		{"metadata", "pack.metadata"},
		{"icon", "pack.icon"},
		{"work-dir", "work_dir"},
	}
	boolFlags = []buildFlag{
		{"publish", "publish.enabled"},
		{"strict", "strict"},
		{"keep-work-dir", "keep_work_dir"},
	}
)

// NewBuildCommand creates the "build" cobra command.
func NewBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Fetch, rewrite and package a datapack",
		Long: `Build a datapack from the configured source repository.

The command:
  - Fetches the configured ref (git clone or zip archive)
  - Copies the data folder and pack skeleton into the output directory
  - Applies every rule group of the ruleset in order
  - Removes trailing commas and blank lines from every JSON file
  - Zips the result next to the output directory and optionally uploads it

Examples:
  datapack-builder build
  datapack-builder build --ref 1.21.5 --rules rules.yaml
  datapack-builder build --source ./local/data --no-archive
  datapack-builder build --method archive --publish -v`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides, err := buildOverrides(cmd)
			if err != nil {
				return err
			}
			return runBuild(cmd, overrides)
		},
	}

	cmd.Flags().String("repo", "", "Source repository URL")
	cmd.Flags().String("ref", "", "Branch or tag to fetch")
	cmd.Flags().String("method", "", "Fetch method: git or archive")
	cmd.Flags().String("data-path", "", "Data folder path inside the repository")
	cmd.Flags().String("source", "", "Use a local data folder instead of fetching")
	cmd.Flags().String("rules", "", "Ruleset file (.json, .jsonc, .yaml, .toml)")
	cmd.Flags().StringP("output", "o", "", "Output directory (cleared on every run)")
	cmd.Flags().String("name", "", "Archive name without .zip (default: output directory name)")
	cmd.Flags().String("metadata", "", "pack.mcmeta source file")
	cmd.Flags().String("icon", "", "Pack icon source file, copied as pack.png")
	cmd.Flags().String("work-dir", "", "Directory for fetched sources")
	cmd.Flags().Bool("no-archive", false, "Skip creating the zip archive")
	cmd.Flags().Bool("publish", false, "Upload the archive to the configured bucket")
	cmd.Flags().Bool("strict", false, "Exit non-zero when any file failed")
	cmd.Flags().Bool("keep-work-dir", false, "Keep the fetched source after the build")

	return cmd
}

// buildOverrides collects the explicitly set flags as config overrides.
func buildOverrides(cmd *cobra.Command) (map[string]interface{}, error) {
	overrides := map[string]interface{}{}
	flags := cmd.Flags()

	for _, f := range stringFlags {
		if !flags.Changed(f.name) {
			continue
		}
		v, err := flags.GetString(f.name)
		if err != nil {
			return nil, err
		}
		overrides[f.key] = v
	}
	for _, f := range boolFlags {
		if !flags.Changed(f.name) {
			continue
		}
		v, err := flags.GetBool(f.name)
		if err != nil {
			return nil, err
		}
		overrides[f.key] = v
	}
	if flags.Changed("no-archive") {
		v, err := flags.GetBool("no-archive")
		if err != nil {
			return nil, err
		}
		overrides["archive.enabled"] = !v
	}
	return overrides, nil
}

func runBuild(cmd *cobra.Command, overrides map[string]interface{}) error {
	logger := logging.GetLogger("cli")

	cfg, err := config.Load(config.Options{File: configFile, Overrides: overrides})
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}

	method, err := fetch.ParseMethod(cfg.Source.Method)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid fetch method", err)
	}

	rules, rulesErr := ruleset.Load(cfg.Rules.Path)
	if rulesErr != nil {
		logger.Warn().Err(rulesErr).Msg("Continuing with the rules that could be loaded")
	}
	logger.Info().
		Str("rules", cfg.Rules.Path).
		Int("groups", len(rules.Groups)).
		Int("count", rules.RuleCount()).
		Msg("Ruleset loaded")

	var publisher pipeline.Publisher
	if cfg.Publish.Enabled {
		p, err := packaging.NewPublisher(packaging.PublishConfig{
			Endpoint:  cfg.Publish.Endpoint,
			Region:    cfg.Publish.Region,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			UseSSL:    cfg.Publish.UseSSL,
			Prefix:    cfg.Publish.Prefix,
		})
		if err != nil {
			return model.WrapCLIError(model.ExitConfigError, "invalid publish configuration", err)
		}
		publisher = p
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := pipeline.Build(ctx, pipeline.BuildOptions{
		Source: fetch.Source{
			Repository: cfg.Source.Repository,
			Ref:        cfg.Source.Ref,
			ArchiveURL: cfg.Source.ArchiveURL,
		},
		Method:      method,
		DataPath:    cfg.Source.DataPath,
		LocalData:   cfg.Source.Local,
		WorkDir:     cfg.WorkDir,
		KeepWorkDir: cfg.KeepWorkDir,
		Transform: pipeline.Options{
			OutputDir:    cfg.Output.Dir,
			MetadataPath: cfg.Pack.Metadata,
			IconPath:     cfg.Pack.Icon,
			PackFormat:   cfg.Pack.Format,
			Description:  cfg.Pack.Description,
			Rules:        rules,
		},
		Archive:     cfg.Archive.Enabled,
		ArchiveName: cfg.Output.Name,
		Publisher:   publisher,
	})

	if report != nil {
		if rulesErr != nil {
			report.Record(configurationFailure(cfg.Rules.Path, rulesErr))
		}
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return buildError(err)
	}

	if cfg.Strict && report.HasFailures() {
		return model.NewCLIError(model.ExitPartialFailure,
			fmt.Sprintf("%d file(s) failed and --strict is set", len(report.Failures)))
	}
	return nil
}

// configurationFailure turns a ruleset loading error into a report entry.
func configurationFailure(path string, err error) model.FileResult {
	return model.FileResult{
		Stage:   model.StageEmpty,
		Path:    path,
		Failure: model.FailureConfiguration,
		Err:     err,
	}
}

// buildError wraps a pipeline error in a CLIError with the matching exit
// code.
func buildError(err error) error {
	code := ExitCodeFor(err)
	var message string
	switch {
	case errors.Is(err, pipeline.ErrOverlap):
		message = "output directory and source data overlap"
	case errors.Is(err, fetch.ErrNotFound):
		message = "source repository or ref not found"
	case errors.Is(err, model.ErrNoSourceData):
		message = "source has no data folder"
	case errors.Is(err, fetch.ErrTransport):
		message = "failed to fetch source"
	case errors.Is(err, pipeline.ErrPackaging):
		message = "failed to create archive"
	case errors.Is(err, pipeline.ErrPublish):
		message = "failed to publish archive"
	default:
		message = "build failed"
	}
	return model.WrapCLIError(code, message, err)
}
