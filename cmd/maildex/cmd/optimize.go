package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/shardstore"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the two-pass posting-shard maintenance sweep (split oversize shards, merge undersize ones)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openArchive()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := shardstore.CompactOptions{
			TombstoneMax: a.Index.Len(),
			Progress: func(shard string) {
				console.Mark(fmt.Sprintf("optimize: %s", shard))
			},
		}
		if err := a.Store.Compact(opts); err != nil {
			return fmt.Errorf("optimize: %w", err)
		}
		console.Notify("optimize complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
}
