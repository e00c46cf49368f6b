package main

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/config"
	"github.com/todosync/todosync/internal/ui"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "advanced",
		Short:   "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the current settings to a config file",
		Annotations: map[string]string{optionalConfig: "true"},
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.configPath
			if path == "" {
				path = filepath.Join(config.Dir(), config.FileName+".toml")
			}
			if err := config.Write(*app.cfg, path, force); err != nil {
				return err
			}
			ui.OK(cmd.OutOrStdout(), "Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := app.v.AllSettings()
			if rem, ok := settings["remote"].(map[string]any); ok && rem["token"] != "" {
				rem["token"] = "********"
			}
			if used := app.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(settings)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
