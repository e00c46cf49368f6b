package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/daemon"
	"github.com/todosync/todosync/internal/dashboard"
	"github.com/todosync/todosync/internal/persist"
)

func newDaemonCmd(app *App) *cobra.Command {
	var withDashboard bool

	cmd := &cobra.Command{
		Use:     "daemon",
		GroupID: "advanced",
		Short:   "Keep the snapshot and the remote in sync in the background",
		Long: `Run until interrupted, watching the snapshot file for edits made by other
processes and pushing them to the remote.

With daemon.refresh_interval set, the remote list is also fetched
periodically. --dashboard additionally serves the WebSocket dashboard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, app, withDashboard)
		},
	}

	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "also serve the WebSocket dashboard")
	cmd.Flags().Duration("refresh", 0, "refresh interval (overrides daemon.refresh_interval)")
	_ = app.v.BindPFlag("daemon.refresh_interval", cmd.Flags().Lookup("refresh"))
	return cmd
}

func newDashboardCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dashboard",
		GroupID: "advanced",
		Short:   "Run the daemon with a real-time WebSocket dashboard",
		Long: `Start the sync daemon together with a WebSocket dashboard.

WebSocket messages include:
- state_change: the engine moved between clean and dirty
- item_update: an item was saved or deleted
- sync_complete: a full list was adopted from the remote
- stats: item counts, state and revision

Connect with a WebSocket client:
  ws://127.0.0.1:8080/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, app, true)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides dashboard.addr)")
	_ = app.v.BindPFlag("dashboard.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runDaemon(cmd *cobra.Command, app *App, withDashboard bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	e, p, err := app.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	// The daemon reads through its own persister so that a SQLite
	// snapshot gets a separate connection.
	format, _ := persist.ParseFormat(app.cfg.Data.Format)
	watchP, err := app.persister(format)
	if err != nil {
		return err
	}
	defer watchP.Close()

	if withDashboard {
		server := dashboard.NewServer(&dashboard.Config{
			Addr:   app.cfg.Dashboard.Addr,
			Logger: app.logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer server.Stop()

		handler := dashboard.NewHandler(server, e, app.logger("dashboard"))
		detach := handler.Attach()
		defer detach()

		fmt.Fprintf(out, "Dashboard: http://%s/ (WebSocket ws://%s/ws)\n", server.Addr(), server.Addr())
	}

	d, err := daemon.New(e, watchP, &daemon.Config{
		RefreshInterval:  app.cfg.Daemon.RefreshInterval,
		DebounceInterval: app.cfg.Daemon.Debounce,
		Logger:           app.logger("daemon"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", p.Path())
	return d.Start(ctx)
}
