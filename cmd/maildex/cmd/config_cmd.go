package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get, set, unset, or print tuning knobs",
}

var configKeys = []string{"postinglist_kb", "sort_max", "num_results", "fd_cache_size", "default_order"}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the current value of a tuning knob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console.Say(cfg.Get(args[0], ""))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a tuning knob",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("%s = %s", args[0], args[1]))
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a tuning knob to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Unset(args[0]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("%s reset to default", args[0]))
		return nil
	},
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print every tuning knob",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		for _, key := range configKeys {
			fmt.Fprintf(w, "%s\t%s\n", key, cfg.Get(key, ""))
		}
		return w.Flush()
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import <config.rc>",
	Short: "Import a legacy line-oriented config.rc (mailboxes, tags, filters, knobs)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := config.ParseRCFile(args[0])
		if err != nil {
			return err
		}
		cfg.ImportRC(rc)
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("imported %s: %d mailbox(es), %d tag(s), %d filter(s)",
			args[0], len(cfg.GetMailboxes()), len(cfg.ListTags()), len(cfg.ListFilterEntries())))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configUnsetCmd, configPrintCmd, configImportCmd)
	rootCmd.AddCommand(configCmd)
}
