// Command auditctl is an operator console over the audit collector's
// control surface: one-shot subcommands for query/delete/rotate/reload,
// plus an interactive readline shell.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/log"
)

var (
	auditDir        string
	remainThreshold uint32

	rootCmd = &cobra.Command{
		Use:   "auditctl",
		Short: "Operator console for the audit collector",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&auditDir, "directory", "d", "",
		"audit directory to operate against (required)")
	rootCmd.PersistentFlags().Uint32Var(&remainThreshold, "remain-threshold", 1024,
		"remain_threshold used to size the index table when reading it fresh")
	rootCmd.MarkPersistentFlagRequired("directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("auditctl: %v", err)
		os.Exit(1)
	}
}
