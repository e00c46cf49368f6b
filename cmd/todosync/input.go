package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/todosync/todosync/internal/item"
)

// itemInput is what a user types to create an item, before validation.
type itemInput struct {
	Text       string
	Importance string
	Deadline   string
}

func (in itemInput) build(now time.Time) (item.Item, error) {
	if strings.TrimSpace(in.Text) == "" {
		return item.Item{}, fmt.Errorf("item text cannot be empty")
	}
	imp, err := item.ParseImportance(in.Importance)
	if err != nil {
		return item.Item{}, err
	}

	opts := []item.Option{
		item.WithImportance(imp),
		item.WithCreationDate(now),
	}
	if strings.TrimSpace(in.Deadline) != "" {
		d, err := parseDeadline(in.Deadline, now)
		if err != nil {
			return item.Item{}, err
		}
		opts = append(opts, item.WithDeadline(d))
	}
	return item.New(strings.TrimSpace(in.Text), opts...), nil
}

var deadlineLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	time.RFC3339,
}

var deadlineParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDeadline accepts YYYY-MM-DD, YYYY-MM-DD HH:MM, RFC3339, or English
// phrases such as "tomorrow" or "next friday 5pm" relative to now.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty deadline")
	}

	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	r, err := deadlineParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q (expected YYYY-MM-DD or a phrase like \"next friday\")", s)
	}
	return r.Time, nil
}

// runItemForm asks for the fields of in, using its values as defaults.
func runItemForm(in *itemInput) error {
	if in.Importance == "" {
		in.Importance = string(item.Normal)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("What needs doing?").
				Value(&in.Text).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("text cannot be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Importance").
				Options(
					huh.NewOption("Unimportant", string(item.Unimportant)),
					huh.NewOption("Normal", string(item.Normal)),
					huh.NewOption("Important", string(item.Important)),
				).
				Value(&in.Importance),
			huh.NewInput().
				Title("Deadline").
				Placeholder("optional, e.g. tomorrow or 2024-06-01").
				Value(&in.Deadline).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := parseDeadline(s, time.Now())
					return err
				}),
		),
	)
	return form.Run()
}
