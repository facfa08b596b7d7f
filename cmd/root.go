package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Publish extraction JSON into a search index",
	Long: `docindex flattens hierarchical document/page/chunk extraction output into
index-ready records, validates them against a field schema, and uploads them
to a search backend in resumable batches.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
