package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags; it defaults to "dev" for
// local builds, mirroring the teacher's cobra-CLI layout (one rootCmd,
// subcommands registered in init()).
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sekha",
	Short: "Sekha persistent conversational-memory service",
	Long:  `Sekha stores chat transcripts, indexes them for semantic and keyword retrieval, and assembles ranked context windows for downstream language models.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Sekha version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("sekha " + version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, serveCmd, migrateCmd, pruneCmd, reapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
