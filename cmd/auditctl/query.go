package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/control"
)

var (
	queryBegin string
	queryEnd   string

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "List audit records whose time falls in [begin, end)",
		RunE:  runQuery,
	}
)

func init() {
	queryCmd.Flags().StringVar(&queryBegin, "begin", "", "RFC3339 start time, inclusive")
	queryCmd.Flags().StringVar(&queryEnd, "end", "", "RFC3339 end time, exclusive")
	queryCmd.MarkFlagRequired("begin")
	queryCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(queryCmd)
}

func parseRange(beginStr, endStr string) (int64, int64, error) {
	begin, err := time.Parse(time.RFC3339, beginStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --begin: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --end: %w", err)
	}
	return begin.Unix(), end.Unix(), nil
}

func runQuery(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	begin, end, err := parseRange(queryBegin, queryEnd)
	if err != nil {
		return err
	}
	rows, id, err := control.Query(auditDir, remainThreshold, begin, end)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# correlation=%s rows=%d\n", id, len(rows))
	for _, r := range rows {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%v\n", r.Time, r.TypeDesc, r.ResultDesc, r.Fields)
	}
	return nil
}
