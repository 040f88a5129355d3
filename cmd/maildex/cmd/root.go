package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/config"
	"github.com/wesm/maildex/internal/ui"
)

var (
	cfgFile string
	homeDir string
	verbose bool

	cfg     *config.Config
	console *ui.CLI
)

var rootCmd = &cobra.Command{
	Use:   "maildex",
	Short: "Offline mbox full-text search and indexing engine",
	Long: `maildex indexes one or more local mbox archives into a sharded
posting-list store and a tab-delimited metadata index, and answers
boolean keyword queries against them without ever touching the network
or mutating the source mailboxes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		console = ui.New(verbose)

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create working directory %s: %w", cfg.HomeDir, err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context, enabling
// graceful shutdown (scan/optimize interrupt handling) when ctx is
// cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.maildex/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "working directory (overrides MAILDEX_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
