// Package launch starts the tracee: it forks and execs the target
// program with tracing requested from birth, the Go-native equivalent
// of the original debugger's PTRACE_TRACEME-then-execl child.
package launch

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CadenMG/unbug/internal/dwarfinfo"
	"github.com/CadenMG/unbug/internal/tracee"
)

// Session bundles everything the REPL needs once a tracee has been
// launched and attached: the tracee handle, its debug info, and the
// load-address offset to translate DWARF addresses into this
// process's address space.
type Session struct {
	Tracee      *tracee.Tracee
	Info        *dwarfinfo.Info
	LoadAddress uint64
	Process     *os.Process
}

// Start forks, execs progPath under ptrace, and blocks for the
// initial SIGTRAP stop delivered at exec. The caller must have called
// runtime.LockOSThread before Start, since all further ptrace calls
// for this tracee must originate from the same OS thread.
func Start(progPath string, log *logrus.Logger) (*Session, error) {
	info, err := dwarfinfo.Load(progPath)
	if err != nil {
		return nil, errors.Wrap(err, "load debug info")
	}

	cmd := exec.Command(progPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:    true,
		Pdeathsig: syscall.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start tracee")
	}

	tr := tracee.New(cmd.Process.Pid)
	status, err := tr.Wait()
	if err != nil {
		return nil, errors.Wrap(err, "wait for initial stop")
	}
	if status.Exited() {
		return nil, errors.Errorf("tracee exited immediately with status %d", status.ExitStatus())
	}

	var loadAddress uint64
	if info.IsPIE() {
		loadAddress, err = tr.LoadAddress()
		if err != nil {
			return nil, errors.Wrap(err, "read load address")
		}
	}

	log.WithFields(logrus.Fields{
		"pid":          tr.Pid,
		"pie":          info.IsPIE(),
		"load_address": loadAddress,
	}).Info("attached to tracee")

	return &Session{Tracee: tr, Info: info, LoadAddress: loadAddress, Process: cmd.Process}, nil
}

// LockDebuggerThread pins the calling goroutine to its current OS
// thread, required because ptrace(2) demands every call for a given
// tracee come from the thread that attached to it.
func LockDebuggerThread() {
	runtime.LockOSThread()
}
