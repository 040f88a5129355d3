package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/scheduler"
)

var watchCmd = &cobra.Command{
	Use:   "watch <cron-expr>",
	Short: "Run scan on a cron schedule until interrupted",
	Long: `watch registers a single "rescan" job on the given schedule (standard
five-field cron: minute hour dom month dow) and blocks, running scan each
time it fires, until the process receives an interrupt.

Example:
  maildex watch "*/15 * * * *"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched := scheduler.New().WithLogger(console.Logger)
		if err := sched.AddJob("rescan", args[0], runScan); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		sched.Start()
		console.Notify(fmt.Sprintf("watching on schedule %q; press Ctrl+C to stop", args[0]))

		<-cmd.Context().Done()
		<-sched.Stop().Done()
		console.Notify("watch stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
