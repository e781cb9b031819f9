package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/diligence-ai/dataroom-indexer/cmd/dataroom-indexer/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "dataroom-indexer",
	Short: "Data Room Indexer - Build a queryable knowledge base from a folder of documents",
	Long: `The Data Room Indexer walks a folder of deal documents, converts every
supported file to PDF, renders each page to an image, summarizes pages and
whole documents with a vision model, and writes a single JSON index that
downstream analysis tools can query.

Interrupted or partially failed runs checkpoint their progress; rerunning
the same command resumes where the previous run stopped.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load() // Ignore error if .env doesn't exist
		ui.Init(noColor, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
