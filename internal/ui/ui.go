// Package ui implements the collab.UI collaborator: progress marks and
// warnings go to a structured slog logger, while operator-facing notices
// and results are written to stdout with lipgloss styling.
package ui

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/wesm/maildex/internal/collab"
)

var (
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#996600", Dark: "#ffcc00"}).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#aa0000", Dark: "#ff6666"}).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Italic(true)
)

// CLI is the concrete collab.UI used by the cmd/maildex binary. Mark and
// Warning/Error are routed through a *slog.Logger whose level follows the
// -v flag; Notify and Say write directly to an io.Writer (stdout by
// default) for result output that a user scripts against.
type CLI struct {
	Logger *slog.Logger
	Out    io.Writer
}

var _ collab.UI = (*CLI)(nil)

// New returns a CLI collaborator logging at level (slog.LevelInfo unless
// verbose) to stderr, and writing Say/Notify output to stdout.
func New(verbose bool) *CLI {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return &CLI{Logger: logger, Out: os.Stdout}
}

// Mark reports scan/compact progress at debug level; -v surfaces it.
func (c *CLI) Mark(progress string) {
	c.Logger.Debug(progress)
}

// Warning reports a recoverable problem (malformed message, mutated
// mailbox) at warn level and also surfaces it on stdout so a non-verbose
// run still notices.
func (c *CLI) Warning(msg string) {
	c.Logger.Warn(msg)
	fmt.Fprintln(c.Out, warningStyle.Render("warning: "+msg))
}

// Error reports an operation-ending problem.
func (c *CLI) Error(msg string) {
	c.Logger.Error(msg)
	fmt.Fprintln(c.Out, errorStyle.Render("error: "+msg))
}

// Notify surfaces a one-line status update (e.g. "scanned 3 mailboxes,
// added 42 messages").
func (c *CLI) Notify(msg string) {
	fmt.Fprintln(c.Out, noticeStyle.Render(msg))
}

// Say writes a line of result output (search hits, tag listings) verbatim,
// undecorated so it's friendly to downstream scripting/piping.
func (c *CLI) Say(text string) {
	fmt.Fprintln(c.Out, text)
}
