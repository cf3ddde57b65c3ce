package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	ciMode     bool
	dataDir    string
	configPath string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Durable memory for AI agent workspaces",
	Long: `Mnemo stores agent memory across sessions: records in SQLite, embeddings
for semantic search, a write-ahead log for crash recovery and a markdown
mirror you can read directly.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&ciMode, "ci", false, "CI mode: JSON log output")
	RootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.mnemo)")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (.yaml or .json)")
}
