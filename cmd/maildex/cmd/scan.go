package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Aliases: []string{"rescan"},
	Short:   "Ingest any messages appended to configured mailboxes since the last scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context())
	},
}

// runScan performs one scan pass, reporting results through console. It is
// shared by the scan command and the watch command's cron job.
func runScan(ctx context.Context) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	defer a.Close()

	s := scanner.New(cfg, cfg, console, a.Index, a.Store, cfg.GetFilters())
	result, err := s.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if result.Added > 0 {
		if err := a.SaveIndex(); err != nil {
			return fmt.Errorf("save metadata index: %w", err)
		}
	}

	if result.Interrupted {
		console.Notify(fmt.Sprintf("scan interrupted: %d message(s) added across %d mailbox(es)", result.Added, result.Mailboxes))
		return nil
	}
	console.Notify(fmt.Sprintf("scanned %d mailbox(es), added %d message(s)", result.Mailboxes, result.Added))
	return nil
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
