// Command unbug is an interactive source-level debugger for native
// linux/amd64 executables: it launches a target program, attaches via
// ptrace(2), and drives a REPL for inspecting/mutating registers and
// memory, installing breakpoints, and stepping by source line.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/CadenMG/unbug/internal/debugger"
	"github.com/CadenMG/unbug/internal/launch"
	"github.com/CadenMG/unbug/internal/repl"
)

var (
	logLevel    string
	historyFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unbug <program-path>",
		Short: "An interactive source-level debugger for linux/amd64 executables",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebugSession,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "diagnostic log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&historyFile, "history-file", repl.DefaultHistoryFile, "REPL command history file")
	return cmd
}

func runDebugSession(cmd *cobra.Command, args []string) error {
	// We must stay on the same OS thread for the lifetime of the
	// session: ptrace(2) requires every call after the initial attach
	// to come from the thread that attached.
	launch.LockDebuggerThread()

	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	log.SetLevel(level)

	progPath := args[0]
	session, err := launch.Start(progPath, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Started debugging process %d\n", session.Process.Pid)

	eng := debugger.New(session.Tracee, session.Info, session.LoadAddress, out, log)

	return repl.Run(eng, out, historyFile)
}
