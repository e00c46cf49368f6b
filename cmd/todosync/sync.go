package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/reconcile"
	"github.com/todosync/todosync/internal/ui"
)

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "refresh",
		GroupID: "sync",
		Short:   "Fetch the remote list and merge it into the snapshot",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := app.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if err := e.Open(cmd.Context()); err != nil {
				return err
			}
			if e.State() == reconcile.Clean {
				ui.OK(out, "%d items at revision %d", len(e.CurrentItems()), e.Revision())
				return nil
			}
			ui.Warn(out, "Showing %d local items: %v", len(e.CurrentItems()), e.DirtyReason())
			return nil
		},
	}
}

func newPushCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "push",
		Aliases: []string{"sync"},
		GroupID: "sync",
		Short:   "Send the whole local list to the remote",
		Long: `Replace the remote list with the local snapshot and adopt the result.

Every other command starts from the remote list when the remote answers, so
changes saved while it was unreachable reach it through push.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.Offline() {
				return fmt.Errorf("no remote configured (set remote.url or --remote)")
			}
			e, _, err := app.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.LoadLocal(cmd.Context()); err != nil {
				if errors.Is(err, persist.ErrNotFound) {
					return fmt.Errorf("nothing to push: no snapshot at %s", e.SnapshotPath())
				}
				return err
			}
			if err := e.Sync(cmd.Context()); err != nil {
				return fmt.Errorf("push failed: %w", err)
			}
			ui.OK(cmd.OutOrStdout(), "Pushed %d items, revision %d", len(e.CurrentItems()), e.Revision())
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show sync state, revision and item counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStatus(ui.Status{
				State:    e.State().String(),
				Reason:   e.DirtyReason(),
				Revision: e.Revision(),
				Total:    len(e.CurrentItems()),
				Done:     e.CompletedCount(),
				Snapshot: e.SnapshotPath(),
				Remote:   app.cfg.Remote.URL,
			}))
			return nil
		},
	}
}
