// Command atx mirrors AutoTrainX database tables into Google Sheets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "atx",
	Short: "AutoTrainX spreadsheet sync",
	Long: `atx keeps Google Sheets worksheets in step with AutoTrainX
database tables. It watches the configured tables for changes,
debounces write bursts, and applies minimal batched updates so each
record keeps a stable spreadsheet row.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "atx.yaml", "path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
