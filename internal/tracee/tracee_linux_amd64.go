// Package tracee wraps the kernel's process-tracing facility with the
// thin, single-syscall operations the debugger engine composes:
// continue, single-step, peek/poke a data word, get/set registers,
// fetch siginfo, and wait for a state change.
package tracee

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/CadenMG/unbug/internal/regset"
)

var byteOrder = binary.LittleEndian

// Tracee is a thin handle on a traced process: a pid plus whatever
// state the kernel keeps on its behalf. It does not own the process
// image or its lifetime, only the right to mutate it while stopped.
type Tracee struct {
	Pid int
}

// New wraps an already-traced pid.
func New(pid int) *Tracee {
	return &Tracee{Pid: pid}
}

// Continue resumes the tracee until its next stop.
func (t *Tracee) Continue() error {
	if err := syscall.PtraceCont(t.Pid, 0); err != nil {
		return errors.Wrap(err, "ptrace cont")
	}
	return nil
}

// SingleStep executes exactly one machine instruction in the tracee.
func (t *Tracee) SingleStep() error {
	if err := syscall.PtraceSingleStep(t.Pid); err != nil {
		return errors.Wrap(err, "ptrace singlestep")
	}
	return nil
}

// PeekWord reads the 8-byte word at addr in the tracee's address space.
func (t *Tracee) PeekWord(addr uintptr) (uint64, error) {
	var buf [8]byte
	n, err := syscall.PtracePeekData(t.Pid, addr, buf[:])
	if err != nil {
		return 0, errors.Wrap(err, "ptrace peekdata")
	}
	if n != len(buf) {
		return 0, errors.Errorf("peekdata: short read (%d bytes) at %#x", n, addr)
	}
	return byteOrder.Uint64(buf[:]), nil
}

// PokeWord writes word as the 8-byte value at addr.
func (t *Tracee) PokeWord(addr uintptr, word uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], word)
	n, err := syscall.PtracePokeData(t.Pid, addr, buf[:])
	if err != nil {
		return errors.Wrap(err, "ptrace pokedata")
	}
	if n != len(buf) {
		return errors.Errorf("pokedata: short write (%d bytes) at %#x", n, addr)
	}
	return nil
}

// GetRegs fetches the tracee's current register set.
func (t *Tracee) GetRegs() (*regset.Regs, error) {
	var pr syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(t.Pid, &pr); err != nil {
		return nil, errors.Wrap(err, "ptrace getregs")
	}
	return regset.FromPtrace(&pr), nil
}

// SetRegs writes regs back into the tracee.
func (t *Tracee) SetRegs(regs *regset.Regs) error {
	var pr syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(t.Pid, &pr); err != nil {
		return errors.Wrap(err, "ptrace getregs")
	}
	regs.ApplyTo(&pr)
	if err := syscall.PtraceSetRegs(t.Pid, &pr); err != nil {
		return errors.Wrap(err, "ptrace setregs")
	}
	return nil
}

// PC returns the tracee's current instruction pointer.
func (t *Tracee) PC() (uint64, error) {
	regs, err := t.GetRegs()
	if err != nil {
		return 0, err
	}
	return regs.Rip, nil
}

// SetPC rewinds or advances the tracee's instruction pointer.
func (t *Tracee) SetPC(pc uint64) error {
	regs, err := t.GetRegs()
	if err != nil {
		return err
	}
	regs.Rip = pc
	return t.SetRegs(regs)
}

// SigInfo mirrors the fields of siginfo_t the engine inspects.
type SigInfo struct {
	Signo int32
	Errno int32
	Code  int32
}

// kernelSiginfo matches the kernel's siginfo_t layout on linux/amd64
// closely enough to read the leading si_signo/si_errno/si_code fields;
// the remaining bytes are a union the engine never touches.
type kernelSiginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_pad  [29]int32
}

// GetSigInfo fetches the pending siginfo_t for the tracee's last stop.
func (t *Tracee) GetSigInfo() (*SigInfo, error) {
	var raw kernelSiginfo
	_, _, errno := syscall.Syscall6(
		syscall.SYS_PTRACE,
		uintptr(unix.PTRACE_GETSIGINFO),
		uintptr(t.Pid),
		0,
		uintptr(unsafe.Pointer(&raw)),
		0, 0,
	)
	if errno != 0 {
		return nil, errors.Wrap(errno, "ptrace getsiginfo")
	}
	return &SigInfo{Signo: raw.Signo, Errno: raw.Errno, Code: raw.Code}, nil
}

// Signal trap-cause codes the engine dispatches handle_sigtrap on.
const (
	SIKernel  = unix.SI_KERNEL
	TrapBrkpt = unix.TRAP_BRKPT
	TrapTrace = unix.TRAP_TRACE
)

// WaitStatus is the subset of syscall.WaitStatus the engine consults.
type WaitStatus struct {
	raw syscall.WaitStatus
}

func (w WaitStatus) Exited() bool     { return w.raw.Exited() }
func (w WaitStatus) ExitStatus() int  { return w.raw.ExitStatus() }
func (w WaitStatus) Stopped() bool    { return w.raw.Stopped() }

func (w WaitStatus) StopSignal() syscall.Signal { return w.raw.StopSignal() }

// Wait blocks until the tracee changes state (stop, exit, signal).
func (t *Tracee) Wait() (WaitStatus, error) {
	var status syscall.WaitStatus
	_, err := syscall.Wait4(t.Pid, &status, 0, nil)
	if err != nil {
		return WaitStatus{}, errors.Wrap(err, "wait4")
	}
	return WaitStatus{raw: status}, nil
}

// NewStoppedWaitStatus builds a WaitStatus reporting the tracee
// stopped by sig, for tests and fakes that simulate a tracee without
// a real wait4(2) call.
func NewStoppedWaitStatus(sig syscall.Signal) WaitStatus {
	return WaitStatus{raw: syscall.WaitStatus(uint32(sig)<<8 | 0x7f)}
}

// LoadAddress reads the first mapping's base address out of
// /proc/<pid>/maps, which is the load base the loader chose for a
// position-independent executable. For a fixed-address executable it
// is the image's fixed base, not zero.
func (t *Tracee) LoadAddress() (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", t.Pid))
	if err != nil {
		return 0, errors.Wrap(err, "open maps")
	}
	defer f.Close()

	var line [4096]byte
	n, err := f.Read(line[:])
	if err != nil {
		return 0, errors.Wrap(err, "read maps")
	}
	s := string(line[:n])
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return 0, errors.Errorf("malformed /proc/%d/maps", t.Pid)
	}
	var base uint64
	_, err = fmt.Sscanf(s[:dash], "%x", &base)
	if err != nil {
		return 0, errors.Wrap(err, "parse load base")
	}
	return base, nil
}
