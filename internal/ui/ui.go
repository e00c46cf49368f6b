// Package ui renders todosync output for terminals.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/todosync/todosync/internal/item"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle     = lipgloss.NewStyle().Faint(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	importantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	doneStyle      = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	panelStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	boxChecked   = "☑"
	boxUnchecked = "☐"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback when it is not a
// terminal.
func Width(f *os.File, fallback int) int {
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

// SetupColor picks the color profile for out. Colors are disabled when
// NO_COLOR is set or out is not a terminal.
func SetupColor(out *os.File) {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" || !IsTerminal(out) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(out).EnvColorProfile())
}

// OK prints a success line.
func OK(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render("✔ "+fmt.Sprintf(format, args...)))
}

// Fail prints an error line.
func Fail(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render("✖ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func Warn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, pendingStyle.Render("! "+fmt.Sprintf(format, args...)))
}

// ShortID returns the first eight characters of id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderItems lays out items one per line: checkbox, short id, importance
// marker, text and deadline. Deadlines before now are highlighted.
func RenderItems(items []item.Item, now time.Time) string {
	if len(items) == 0 {
		return mutedStyle.Render("No items.")
	}

	var b strings.Builder
	for _, it := range items {
		box := boxUnchecked
		text := it.Text
		if it.IsDone {
			box = successStyle.Render(boxChecked)
			text = doneStyle.Render(text)
		}

		mark := " "
		switch it.Importance {
		case item.Important:
			mark = importantStyle.Render("!")
		case item.Unimportant:
			mark = mutedStyle.Render("↓")
		}

		fmt.Fprintf(&b, "%s %s %s %s", box, mutedStyle.Render(ShortID(it.ID)), mark, text)
		if it.Deadline != nil {
			due := "due " + it.Deadline.Local().Format("2006-01-02")
			if !it.IsDone && it.Deadline.Before(now) {
				due = errorStyle.Render(due + " (overdue)")
			} else {
				due = mutedStyle.Render(due)
			}
			b.WriteString("  " + due)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Status summarizes the engine for the status command.
type Status struct {
	State    string
	Reason   error
	Revision int64
	Total    int
	Done     int
	Snapshot string
	Remote   string // empty when offline
}

// RenderStatus draws s inside a bordered panel.
func RenderStatus(s Status) string {
	state := successStyle.Render(s.State)
	if s.State != "clean" {
		state = pendingStyle.Render(s.State)
	}

	remote := s.Remote
	if remote == "" {
		remote = mutedStyle.Render("offline")
	}

	lines := []string{
		titleStyle.Render("todosync"),
		fmt.Sprintf("State:    %s", state),
	}
	if s.Reason != nil {
		lines = append(lines, fmt.Sprintf("Reason:   %s", mutedStyle.Render(s.Reason.Error())))
	}
	lines = append(lines,
		fmt.Sprintf("Revision: %d", s.Revision),
		fmt.Sprintf("Items:    %s", ProgressBar(s.Done, s.Total, 20)),
		fmt.Sprintf("Snapshot: %s", s.Snapshot),
		fmt.Sprintf("Remote:   %s", remote),
	)
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// ProgressBar renders done out of total as a bar of the given width.
func ProgressBar(done, total, width int) string {
	if width <= 0 {
		width = 28
	}
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + fmt.Sprintf("] %d/%d", done, total)
}
