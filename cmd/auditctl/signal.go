package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/log"
)

// daemonPID is the auditcollector process to signal. rotate/reload/
// terminate have no control-socket transport in this build (spec's
// "future extension, not implemented here"); signals to the known pid
// are the mechanism, matching the collector's own registerSignals
// handling of SIGUSR1/SIGHUP/SIGTERM.
var daemonPID int

var (
	rotateCmd = &cobra.Command{
		Use:   "rotate",
		Short: "Force the collector at --pid to rotate its current file",
		RunE:  signalCmd(syscall.SIGUSR1, "rotate"),
	}
	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Ask the collector at --pid to re-read its configuration file",
		RunE:  signalCmd(syscall.SIGHUP, "reload"),
	}
	terminateCmd = &cobra.Command{
		Use:   "terminate",
		Short: "Ask the collector at --pid to shut down in an orderly fashion",
		RunE:  signalCmd(syscall.SIGTERM, "terminate"),
	}
)

func init() {
	for _, c := range []*cobra.Command{rotateCmd, reloadCmd, terminateCmd} {
		c.Flags().IntVar(&daemonPID, "pid", 0, "pid of the running auditcollector process")
		c.MarkFlagRequired("pid")
		rootCmd.AddCommand(c)
	}
}

func signalCmd(sig syscall.Signal, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		id := uuid.NewString()
		proc, err := os.FindProcess(daemonPID)
		if err != nil {
			return fmt.Errorf("find process %d: %w", daemonPID, err)
		}
		if err := proc.Signal(sig); err != nil {
			return fmt.Errorf("signal process %d: %w", daemonPID, err)
		}
		log.Info("auditctl[%s]: sent %s signal to pid %d", id, verb, daemonPID)
		fmt.Fprintf(cmd.OutOrStdout(), "# correlation=%s %s requested\n", id, verb)
		return nil
	}
}
