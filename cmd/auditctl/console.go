package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/control"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive shell over the control surface",
	RunE:  runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func newConsoleReader() (*readline.Instance, error) {
	history := ""
	if usr, err := user.Current(); err == nil {
		history = filepath.Join(usr.HomeDir, ".auditctlHistory")
	}

	autoComplete := readline.NewPrefixCompleter(
		readline.PcItem(`\query`),
		readline.PcItem(`\delete`),
		readline.PcItem(`\rotate`),
		readline.PcItem(`\reload`),
		readline.PcItem(`\help`),
		readline.PcItem(`\quit`),
	)

	return readline.NewEx(&readline.Config{
		Prompt:          "auditctl> ",
		HistoryFile:     history,
		AutoComplete:    autoComplete,
		InterruptPrompt: "\nInterrupt, press Ctrl+D to exit",
		EOFPrompt:       "exit",
	})
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	r, err := newConsoleReader()
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Fprintf(os.Stderr, "auditctl console over %s. Type \\help to see command options\n", auditDir)

EVAL:
	for {
		line, err := r.Readline()
		if errors.Is(err, io.EOF) {
			break EVAL
		}
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			continue
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue EVAL
		case strings.HasPrefix(line, `\query`):
			consoleQuery(strings.TrimSpace(strings.TrimPrefix(line, `\query`)))
		case strings.HasPrefix(line, `\delete`):
			consoleDelete(strings.TrimSpace(strings.TrimPrefix(line, `\delete`)))
		case strings.HasPrefix(line, `\rotate`):
			consoleSignal(strings.TrimSpace(strings.TrimPrefix(line, `\rotate`)), "rotate")
		case strings.HasPrefix(line, `\reload`):
			consoleSignal(strings.TrimSpace(strings.TrimPrefix(line, `\reload`)), "reload")
		case strings.HasPrefix(line, `\help`) || strings.HasPrefix(line, `\?`):
			printConsoleHelp()
		case line == `\quit`, line == `\q`, line == "exit":
			break EVAL
		default:
			fmt.Fprintf(os.Stderr, "unrecognized command %q, try \\help\n", line)
		}
	}
	return nil
}

func printConsoleHelp() {
	fmt.Fprintln(os.Stderr, `Commands:
  \query <begin-RFC3339> <end-RFC3339>    list records in [begin, end)
  \delete <begin-RFC3339> <end-RFC3339>   tombstone records in [begin, end)
  \rotate <pid>                           force rotation on the given collector
  \reload <pid>                           ask the collector to re-read its config
  \help, \?                               this message
  \quit, \q, exit                         leave the console`)
}

func consoleQuery(args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		fmt.Fprintln(os.Stderr, "usage: \\query <begin> <end>")
		return
	}
	begin, end, err := parseRange(fields[0], fields[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	rows, id, err := control.Query(auditDir, remainThreshold, begin, end)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Printf("# correlation=%s rows=%d\n", id, len(rows))
	for _, r := range rows {
		fmt.Printf("%d\t%s\t%s\t%v\n", r.Time, r.TypeDesc, r.ResultDesc, r.Fields)
	}
}

func consoleDelete(args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		fmt.Fprintln(os.Stderr, "usage: \\delete <begin> <end>")
		return
	}
	begin, end, err := parseRange(fields[0], fields[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	n, id, err := control.Delete(auditDir, remainThreshold, begin, end)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Printf("# correlation=%s tombstoned=%d\n", id, n)
}

func consoleSignal(pidStr, verb string) {
	if pidStr == "" {
		fmt.Fprintf(os.Stderr, "usage: \\%s <pid>\n", verb)
		return
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q\n", pidStr)
		return
	}
	sig := syscall.SIGUSR1
	if verb == "reload" {
		sig = syscall.SIGHUP
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	id := uuid.NewString()
	if err := proc.Signal(sig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Printf("# correlation=%s %s requested on pid %d\n", id, verb, pid)
}
