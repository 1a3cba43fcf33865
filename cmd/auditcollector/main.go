// Command auditcollector is the audit collector daemon: it reads the
// producer pipe, persists rotated audit files, and enforces retention.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "auditcollector",
	Short: "Audit collector daemon",
	Long:  "auditcollector consumes chunked audit records from a pipe and persists a rotated, retained, queryable log.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("auditcollector: %v", err)
		os.Exit(1)
	}
}
