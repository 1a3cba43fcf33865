package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/control"
)

var (
	deleteBegin string
	deleteEnd   string

	deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Tombstone audit records whose time falls in [begin, end)",
		RunE:  runDelete,
	}
)

func init() {
	deleteCmd.Flags().StringVar(&deleteBegin, "begin", "", "RFC3339 start time, inclusive")
	deleteCmd.Flags().StringVar(&deleteEnd, "end", "", "RFC3339 end time, exclusive")
	deleteCmd.MarkFlagRequired("begin")
	deleteCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	begin, end, err := parseRange(deleteBegin, deleteEnd)
	if err != nil {
		return err
	}
	n, id, err := control.Delete(auditDir, remainThreshold, begin, end)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# correlation=%s tombstoned=%d\n", id, n)
	return nil
}
