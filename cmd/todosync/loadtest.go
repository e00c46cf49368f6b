package main

import (
	"fmt"
	"net/http/httptest"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/loadtest"
	"github.com/todosync/todosync/internal/remote"
)

func newLoadtestCmd(app *App) *cobra.Command {
	var (
		clients int
		ops     int
		verify  bool
	)

	cmd := &cobra.Command{
		Use:     "loadtest",
		GroupID: "advanced",
		Short:   "Run concurrent clients against the list service",
		Long: `Start several clients that create items at the same time and report
request latency and revision conflicts.

Without a configured remote an in-memory service is started for the run.
Against a real service the created items are left behind.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, token := app.cfg.Remote.URL, app.cfg.Remote.Token
			if url == "" {
				srv := remote.NewServer(remote.ServerOptions{Logger: app.logger("server")})
				hs := httptest.NewServer(srv.Handler())
				defer hs.Close()
				url, token = hs.URL, ""
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running %d clients x %d items against %s\n", clients, ops, url)

			result, err := loadtest.Run(cmd.Context(), loadtest.Options{
				BaseURL:      url,
				Token:        token,
				Clients:      clients,
				OpsPerClient: ops,
				Logger:       app.logger("loadtest"),
			})
			if err != nil {
				return err
			}
			result.PrintStats(out)

			if verify {
				c, err := remote.New(remote.Options{BaseURL: url, Token: token, Logger: app.logger("remote")})
				if err != nil {
					return err
				}
				if err := loadtest.VerifyConsistency(cmd.Context(), c, result.Created); err != nil {
					return err
				}
				fmt.Fprintln(out, "Consistency check passed")
			}
			if result.Errors > 0 {
				return fmt.Errorf("%d items could not be created", result.Errors)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&clients, "clients", 10, "concurrent clients")
	cmd.Flags().IntVar(&ops, "ops", 10, "items per client")
	cmd.Flags().BoolVar(&verify, "verify", true, "check the final list holds every created item")
	return cmd
}
