package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/datapack-builder/internal/config"
	"github.com/shinji-kodama/datapack-builder/internal/model"
)

// NewConfigCommand creates the "config" command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the datapack-builder configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the built-in defaults",
		Long: `Write the built-in defaults as a TOML configuration file. The path
defaults to ./datapack.toml. An existing file is kept unless --force is set.`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}

			if err := config.WriteDefault(path, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return model.WrapCLIError(model.ExitConfigError, "refusing to overwrite (use --force)", err)
				}
				return model.WrapCLIError(model.ExitGeneralError, "failed to write configuration", err)
			}

			if IsJSONOutput() {
				data, _ := json.MarshalIndent(map[string]string{"path": path}, "", "  ")
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
