// Package cmd provides CLI commands for the docrelay daemon.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docrelay",
	Short: "docrelay - directory watcher that relays documents to a memory service",
	Long: `docrelay watches configured directories for file changes, coalesces
the resulting events so only the latest state per document survives, and
periodically ships pending uploads and deletes to a remote document-memory
service over HTTP with retry and circuit breaking.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
