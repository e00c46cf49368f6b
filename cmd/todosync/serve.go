package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/remote"
)

func newServeRemoteCmd(app *App) *cobra.Command {
	var (
		addr  string
		token string
	)

	cmd := &cobra.Command{
		Use:     "serve-remote",
		GroupID: "advanced",
		Short:   "Run an in-memory list service for local testing",
		Long: `Serve the list API in memory. The list is lost when the process exits.

Point a client at it with:
  todosync --remote http://127.0.0.1:8765 ls`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := remote.NewServer(remote.ServerOptions{
				Token:  token,
				Logger: app.logger("server"),
			})

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			hs := &http.Server{
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- hs.Serve(ln) }()
			fmt.Fprintf(cmd.OutOrStdout(), "List service on http://%s (Ctrl+C to stop)\n", ln.Addr())

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token")
	return cmd
}
