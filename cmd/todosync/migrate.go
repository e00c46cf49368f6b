package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/ui"
)

func newMigrateCmd(app *App) *cobra.Command {
	var (
		from   string
		to     string
		dryRun bool
		backup bool
	)

	cmd := &cobra.Command{
		Use:     "migrate",
		GroupID: "advanced",
		Short:   "Convert the snapshot to another format",
		Long: `Copy every item from one snapshot format to another in the data directory.

Invalid items are reported and left out. Set data.format afterwards to use
the new snapshot.`,
		Example: `  todosync migrate --to sqlite
  todosync migrate --from csv --to json --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = app.cfg.Data.Format
			}
			fromFormat, err := persist.ParseFormat(from)
			if err != nil {
				return err
			}
			toFormat, err := persist.ParseFormat(to)
			if err != nil {
				return err
			}

			src, err := app.persister(fromFormat)
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := app.persister(toFormat)
			if err != nil {
				return err
			}
			defer dst.Close()

			result, err := persist.Migrate(cmd.Context(), persist.MigrateOptions{
				From:   src,
				To:     dst,
				DryRun: dryRun,
				Backup: backup,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range result.Skipped {
				ui.Warn(out, "Skipped %s", s)
			}
			if result.BackupCreated != "" {
				fmt.Fprintf(out, "Backup: %s\n", result.BackupCreated)
			}
			if dryRun {
				ui.OK(out, "Would convert %d items from %s to %s", result.ItemsConverted, src.Path(), dst.Path())
				return nil
			}
			ui.OK(out, "Converted %d items to %s", result.ItemsConverted, dst.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source format (default data.format)")
	cmd.Flags().StringVar(&to, "to", "", "destination format: json, csv or sqlite")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count items without writing")
	cmd.Flags().BoolVar(&backup, "backup", true, "back up an existing destination first")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
