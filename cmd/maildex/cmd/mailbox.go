package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/mbox"
)

// mailboxValidateBytes bounds how much of a candidate file mailbox add
// reads before giving up on finding an mbox "From " separator.
const mailboxValidateBytes = 1 << 20

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Manage configured mbox files",
}

var mailboxAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register an mbox file for scanning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("mailbox add: %w", err)
		}
		if err := validateMbox(path); err != nil {
			return fmt.Errorf("mailbox add: %w", err)
		}
		id := cfg.AddMailbox(path)
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("added mailbox %s as %s", path, id))
		return nil
	},
}

var mailboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured mailboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		mailboxes := cfg.GetMailboxes()
		if len(mailboxes) == 0 {
			console.Say("no mailboxes configured")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPATH")
		for _, m := range mailboxes {
			fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Path)
		}
		return w.Flush()
	},
}

var mailboxRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Drop a configured mailbox (its indexed messages remain searchable)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.RemoveMailbox(args[0]) {
			return fmt.Errorf("mailbox remove: no mailbox with id %q", args[0])
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("removed mailbox %s", args[0]))
		return nil
	},
}

// validateMbox performs a heuristic sanity check that path looks like an
// mbox file before it's registered, so a typo'd path fails fast instead of
// silently scanning zero messages forever.
func validateMbox(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil // an empty mailbox is valid, just nothing to validate yet
	}
	return mbox.Validate(f, mailboxValidateBytes)
}

func init() {
	mailboxCmd.AddCommand(mailboxAddCmd, mailboxListCmd, mailboxRemoveCmd)
	rootCmd.AddCommand(mailboxCmd)
}
