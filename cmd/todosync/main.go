// Command todosync keeps a local to-do list in sync with a list service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/todosync/todosync/internal/config"
	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/reconcile"
	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/ui"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ui.SetupColor(os.Stdout)
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		ui.Fail(os.Stderr, "%v", err)
		os.Exit(1)
	}
}

// App carries state shared by every command.
type App struct {
	v          *viper.Viper
	configPath string
	offline    bool

	cfg       *config.Config
	logOut    io.Writer
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	app := &App{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "todosync",
		Short: "Offline-first to-do list with remote sync",
		Long: `todosync keeps a to-do list on disk and mirrors it to a list service.

Every change is written to the local snapshot first, then sent to the
remote. When the remote cannot be reached the list stays usable and the
next change after the remote recovers pushes the whole list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.logCloser != nil {
				return app.logCloser.Close()
			}
			return nil
		},
	}

	cmd.AddGroup(
		&cobra.Group{ID: "items", Title: "Items:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (default "+filepath.Join(config.Dir(), config.FileName+".toml")+")")
	flags.BoolVar(&app.offline, "offline", false, "do not contact the remote")
	flags.String("data-dir", "", "directory holding the snapshot")
	flags.String("format", "", "snapshot format: json, csv or sqlite")
	flags.String("remote", "", "list service base URL")
	flags.String("token", "", "list service bearer token")
	flags.String("strategy", "", "merge strategy: remote or lww")
	flags.String("log-file", "", "write logs to a rotating file")
	flags.BoolP("verbose", "v", false, "log to stderr")

	for key, flag := range map[string]string{
		"data.dir":      "data-dir",
		"data.format":   "format",
		"remote.url":    "remote",
		"remote.token":  "token",
		"sync.strategy": "strategy",
		"log.file":      "log-file",
		"log.verbose":   "verbose",
	} {
		_ = app.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(
		newListCmd(app),
		newAddCmd(app),
		newEditCmd(app),
		newToggleCmd(app),
		newRemoveCmd(app),
		newRefreshCmd(app),
		newPushCmd(app),
		newStatusCmd(app),
		newDaemonCmd(app),
		newDashboardCmd(app),
		newServeRemoteCmd(app),
		newMigrateCmd(app),
		newLoadtestCmd(app),
		newConfigCmd(app),
	)
	return cmd
}

// optionalConfig marks commands that may name a config file that does not
// exist yet.
const optionalConfig = "optional-config"

func (a *App) load(cmd *cobra.Command) error {
	path := a.configPath
	if _, ok := cmd.Annotations[optionalConfig]; ok && path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	if a.offline {
		cfg.Remote.URL = ""
	}
	a.cfg = cfg
	a.logOut, a.logCloser = config.LogOutput(cfg.Log)
	return nil
}

func (a *App) logger(component string) *log.Logger {
	return config.NewLogger(a.logOut, component)
}

func (a *App) persister(format persist.Format) (persist.Persister, error) {
	if err := os.MkdirAll(a.cfg.Data.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return persist.New(format, a.cfg.Data.Dir, a.cfg.Data.Name, a.logger("persist"))
}

func (a *App) client() (*remote.Client, error) {
	return remote.New(remote.Options{
		BaseURL:  a.cfg.Remote.URL,
		Token:    a.cfg.Remote.Token,
		ClientID: a.cfg.Remote.ClientID,
		Timeout:  a.cfg.Remote.Timeout,
		Logger:   a.logger("remote"),
	})
}

// engine builds an engine from the configuration without opening it.
func (a *App) engine() (*reconcile.Engine, persist.Persister, error) {
	format, err := persist.ParseFormat(a.cfg.Data.Format)
	if err != nil {
		return nil, nil, err
	}
	p, err := a.persister(format)
	if err != nil {
		return nil, nil, err
	}
	strategy, err := reconcile.ParseStrategy(a.cfg.Sync.Strategy)
	if err != nil {
		return nil, nil, err
	}

	var r reconcile.Remote
	if !a.cfg.Offline() {
		c, err := a.client()
		if err != nil {
			return nil, nil, err
		}
		r = c
	}

	e := reconcile.New(nil, p, r, &reconcile.Config{
		Strategy: strategy,
		Logger:   a.logger("sync"),
	})
	return e, p, nil
}

// openEngine builds and opens an engine. An empty list is not an error:
// a first run has neither a snapshot nor a reachable remote.
func (a *App) openEngine(ctx context.Context) (*reconcile.Engine, error) {
	e, _, err := a.engine()
	if err != nil {
		return nil, err
	}
	if err := e.Open(ctx); err != nil && !errors.Is(err, reconcile.ErrNoData) {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// resolveID finds the item whose id starts with prefix, ignoring case.
func resolveID(e *reconcile.Engine, prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", fmt.Errorf("item id cannot be empty")
	}

	var matches []string
	for _, it := range e.CurrentItems() {
		id := strings.ToUpper(it.ID)
		if id == prefix {
			return it.ID, nil
		}
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, it.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", reconcile.ErrUnknownItem, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %s is ambiguous (%d items match)", prefix, len(matches))
	}
}

// report waits for a remote task and tells the user where the change went.
func report(w io.Writer, e *reconcile.Engine, task *reconcile.Task, what string) {
	if task == nil {
		return
	}
	err := task.Wait()
	switch {
	case err == nil:
		ui.OK(w, "%s (revision %d)", what, e.Revision())
	case errors.Is(err, reconcile.ErrOffline):
		ui.OK(w, "%s locally", what)
	default:
		ui.OK(w, "%s locally", what)
		ui.Warn(w, "remote sync failed, run push once the remote is back: %v", err)
	}
}

// pendingOnly drops completed items.
func pendingOnly(items []item.Item) []item.Item {
	out := items[:0:0]
	for _, it := range items {
		if item.Pending(it) {
			out = append(out, it)
		}
	}
	return out
}
