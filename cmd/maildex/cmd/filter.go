package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var filterAddComment string

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Manage auto-tagging filter rules",
}

var filterAddCmd = &cobra.Command{
	Use:   "add <terms> <tags>",
	Short: `Add a filter rule; terms is "*" or a query, tags is signed tag refs like "+3 -5"`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := cfg.AddFilter(args[0], args[1], filterAddComment)
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("added filter %d", id))
		return nil
	},
}

var filterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := cfg.ListFilterEntries()
		if len(entries) == 0 {
			console.Say("no filters configured")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTERMS\tTAGS\tCOMMENT")
		for _, f := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.ID, f.Terms, f.Tags, f.Comment)
		}
		return w.Flush()
	},
}

var filterRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a filter rule by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid filter id %q: %w", args[0], err)
		}
		if !cfg.RemoveFilter(id) {
			return fmt.Errorf("filter remove: no filter with id %d", id)
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("removed filter %d", id))
		return nil
	},
}

func init() {
	filterAddCmd.Flags().StringVar(&filterAddComment, "comment", "", "free-form note about this rule")
	filterCmd.AddCommand(filterAddCmd, filterListCmd, filterRemoveCmd)
	rootCmd.AddCommand(filterCmd)
}
