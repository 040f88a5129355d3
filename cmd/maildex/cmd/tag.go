package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var addtagCmd = &cobra.Command{
	Use:   "addtag <name>",
	Short: "Register a new tag name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := cfg.AddTag(args[0])
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		console.Notify(fmt.Sprintf("added tag %q as id %s", args[0], id))
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "List tags or apply tags to messages by id",
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		tags := cfg.ListTags()
		if len(tags) == 0 {
			console.Say("no tags configured")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, t := range tags {
			fmt.Fprintf(w, "%s\t%s\n", t.ID, t.Name)
		}
		return w.Flush()
	},
}

var tagSetCmd = &cobra.Command{
	Use:   "set <tag-id> <iid...>",
	Short: "Add tag-id to the given message ids (and their conversation replies)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateTag(args[0], args[1:], true)
	},
}

var tagUnsetCmd = &cobra.Command{
	Use:   "unset <tag-id> <iid...>",
	Short: "Remove tag-id from the given message ids (and their conversation replies)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateTag(args[0], args[1:], false)
	},
}

func mutateTag(tagID string, iidArgs []string, add bool) error {
	iids := make([]int64, 0, len(iidArgs))
	for _, a := range iidArgs {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", a, err)
		}
		iids = append(iids, n)
	}

	a, err := openArchive()
	if err != nil {
		return err
	}
	defer a.Close()

	if add {
		err = a.Index.AddTag(a.Store, tagID, iids)
	} else {
		err = a.Index.RemoveTag(a.Store, tagID, iids)
	}
	if err != nil {
		return err
	}
	if err := a.SaveIndex(); err != nil {
		return fmt.Errorf("save metadata index: %w", err)
	}
	verb := "added"
	if !add {
		verb = "removed"
	}
	console.Notify(fmt.Sprintf("%s tag %s on %d message(s)", verb, tagID, len(iids)))
	return nil
}

func init() {
	tagCmd.AddCommand(tagListCmd, tagSetCmd, tagUnsetCmd)
	rootCmd.AddCommand(addtagCmd, tagCmd)
}
