// Package cli wires the command tree for the treestore tool.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treestore/treestore/internal/log"
)

const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "treestore",
	Short: "treestore is a content-addressed source-control store",
	Long:  "treestore stores, deduplicates, heals, and assembles versioned file trees",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("treestore version %s\n", Version)
			os.Exit(0)
		}
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{Level: logLevel, JSONOutput: logJSON})
	},
}

var (
	showVersion bool
	logLevel    string
	logJSON     bool
)

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print the version")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(healCmd)
}
