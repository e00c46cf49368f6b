package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/ui"
)

// listEntry is the machine-readable form of an item printed by ls.
type listEntry struct {
	ID         string     `json:"id" yaml:"id"`
	Text       string     `json:"text" yaml:"text"`
	Importance string     `json:"importance" yaml:"importance"`
	Done       bool       `json:"done" yaml:"done"`
	Deadline   *time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Created    time.Time  `json:"created" yaml:"created"`
	Modified   *time.Time `json:"modified,omitempty" yaml:"modified,omitempty"`
}

func toEntries(items []item.Item) []listEntry {
	out := make([]listEntry, len(items))
	for i, it := range items {
		out[i] = listEntry{
			ID:         it.ID,
			Text:       it.Text,
			Importance: string(it.Importance),
			Done:       it.IsDone,
			Deadline:   it.Deadline,
			Created:    it.CreationDate,
			Modified:   it.ModificationDate,
		}
	}
	return out
}

func writeItems(w io.Writer, items []item.Item, format string) error {
	switch format {
	case "", "table":
		fmt.Fprintln(w, ui.RenderItems(items, time.Now()))
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toEntries(items))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toEntries(items)); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

func newListCmd(app *App) *cobra.Command {
	var (
		all    bool
		output string
	)

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		GroupID: "items",
		Short:   "List items",
		Long: `List the items in display order.

Completed items are hidden unless --all is given. The list is refreshed
from the remote first; when that fails the local snapshot is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			items := e.CurrentItems()
			if !all {
				items = pendingOnly(items)
			}
			return writeItems(cmd.OutOrStdout(), items, output)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed items")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newAddCmd(app *App) *cobra.Command {
	var (
		importance  string
		deadline    string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:     "add [text]",
		GroupID: "items",
		Short:   "Add an item",
		Example: `  todosync add "Buy milk"
  todosync add "Pay rent" --importance important --deadline "next friday"
  todosync add -i`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := itemInput{
				Text:       strings.TrimSpace(strings.Join(args, " ")),
				Importance: importance,
				Deadline:   deadline,
			}

			if interactive {
				if !ui.IsTerminal(os.Stdin) {
					return fmt.Errorf("--interactive needs a terminal")
				}
				if err := runItemForm(&in); err != nil {
					return err
				}
			}

			it, err := in.build(time.Now())
			if err != nil {
				return err
			}

			e, err := app.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			task, err := e.CreateOrUpdate(cmd.Context(), it)
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), e, task, "Added "+ui.ShortID(it.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&importance, "importance", "normal", "unimportant, normal or important")
	cmd.Flags().StringVar(&deadline, "deadline", "", `deadline, e.g. "2024-06-01" or "next friday"`)
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "fill the item in a form")
	return cmd
}

func newEditCmd(app *App) *cobra.Command {
	var (
		text          string
		importance    string
		deadline      string
		clearDeadline bool
	)

	cmd := &cobra.Command{
		Use:     "edit <id>",
		GroupID: "items",
		Short:   "Change an item's text, importance or deadline",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := resolveID(e, args[0])
			if err != nil {
				return err
			}
			it, _ := e.Get(id)
			now := time.Now()

			flags := cmd.Flags()
			if flags.Changed("text") {
				it.Text = text
			}
			if flags.Changed("importance") {
				imp, err := item.ParseImportance(importance)
				if err != nil {
					return err
				}
				it.Importance = imp
			}
			if flags.Changed("deadline") {
				d, err := parseDeadline(deadline, now)
				if err != nil {
					return err
				}
				it.Deadline = &d
			}
			if clearDeadline {
				it.Deadline = nil
			}

			task, err := e.CreateOrUpdate(cmd.Context(), it.Touch(now))
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), e, task, "Updated "+ui.ShortID(id))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "new text")
	cmd.Flags().StringVar(&importance, "importance", "", "unimportant, normal or important")
	cmd.Flags().StringVar(&deadline, "deadline", "", "new deadline")
	cmd.Flags().BoolVar(&clearDeadline, "clear-deadline", false, "remove the deadline")
	return cmd
}

func newToggleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "done <id>",
		Aliases: []string{"toggle", "undone"},
		GroupID: "items",
		Short:   "Toggle an item between done and not done",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := resolveID(e, args[0])
			if err != nil {
				return err
			}
			task, err := e.Toggle(cmd.Context(), id)
			if err != nil {
				return err
			}

			it, _ := e.Get(id)
			what := "Reopened "
			if it.IsDone {
				what = "Completed "
			}
			report(cmd.OutOrStdout(), e, task, what+ui.ShortID(id))
			return nil
		},
	}
}

func newRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		GroupID: "items",
		Short:   "Delete an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := resolveID(e, args[0])
			if err != nil {
				return err
			}
			task, err := e.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), e, task, "Deleted "+ui.ShortID(id))
			return nil
		},
	}
}
