// Package debugger implements the engine: the breakpoint map, the
// load-address offset, the trap-handling state machine, and
// source-level stepping (step-in, step-over, step-out) built on top
// of single-instruction stepping and software breakpoints.
package debugger

import (
	"debug/dwarf"
	"fmt"
	"io"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CadenMG/unbug/internal/breakpoint"
	"github.com/CadenMG/unbug/internal/dwarfinfo"
	"github.com/CadenMG/unbug/internal/regset"
	"github.com/CadenMG/unbug/internal/sourceview"
	"github.com/CadenMG/unbug/internal/tracee"
)

// Tracee is the subset of tracee.Tracee the engine depends on; tests
// substitute a fake.
type Tracee interface {
	Continue() error
	SingleStep() error
	PeekWord(addr uintptr) (uint64, error)
	PokeWord(addr uintptr, word uint64) error
	GetRegs() (*regset.Regs, error)
	SetRegs(regs *regset.Regs) error
	PC() (uint64, error)
	SetPC(pc uint64) error
	GetSigInfo() (*tracee.SigInfo, error)
	Wait() (tracee.WaitStatus, error)
}

// DebugInfo is the subset of dwarfinfo.Info the engine depends on.
type DebugInfo interface {
	FunctionContaining(pc uint64) (*dwarf.Entry, error)
	LowHighPC(entry *dwarf.Entry) (low, high uint64, err error)
	LineFor(pc uint64) (dwarfinfo.LineEntry, error)
	LinesInRange(low, high uint64) ([]dwarfinfo.LineEntry, error)
}

// Engine owns the breakpoint map, the load-address offset, and drives
// continue/step/trap handling for a single tracee.
type Engine struct {
	Tracee      Tracee
	Info        DebugInfo
	LoadAddress uint64
	Out         io.Writer
	Log         *logrus.Logger

	breakpoints map[uintptr]*breakpoint.Breakpoint
	sources     *sourceview.Cache
}

// New constructs an engine bound to tr/info, with loadAddress as read
// from /proc/<pid>/maps at attach time (zero for a fixed-address
// executable).
func New(tr Tracee, info DebugInfo, loadAddress uint64, out io.Writer, log *logrus.Logger) *Engine {
	return &Engine{
		Tracee:      tr,
		Info:        info,
		LoadAddress: loadAddress,
		Out:         out,
		Log:         log,
		breakpoints: make(map[uintptr]*breakpoint.Breakpoint),
		sources:     sourceview.NewCache(),
	}
}

// OffsetLoadAddress converts a runtime address into DWARF address
// space (runtime_addr - load_address).
func (e *Engine) OffsetLoadAddress(runtimeAddr uint64) uint64 {
	return runtimeAddr - e.LoadAddress
}

// ToRuntimeAddress converts a DWARF address into runtime address
// space (dwarf_addr + load_address), the inverse of
// OffsetLoadAddress.
func (e *Engine) ToRuntimeAddress(dwarfAddr uint64) uint64 {
	return dwarfAddr + e.LoadAddress
}

// wordReadWriter adapts the engine's Tracee to breakpoint.WordReadWriter.
type wordReadWriter struct{ t Tracee }

func (w wordReadWriter) PeekWord(addr uintptr) (uint64, error) { return w.t.PeekWord(addr) }
func (w wordReadWriter) PokeWord(addr uintptr, word uint64) error {
	return w.t.PokeWord(addr, word)
}

// SetBreakpoint installs a new, enabled breakpoint at the given
// runtime address and records it in the map. If the map already holds
// a breakpoint at addr, that one is returned unchanged.
func (e *Engine) SetBreakpoint(addr uintptr) (*breakpoint.Breakpoint, error) {
	if bp, ok := e.breakpoints[addr]; ok {
		return bp, nil
	}
	bp := breakpoint.New(wordReadWriter{e.Tracee}, addr)
	if err := bp.Enable(); err != nil {
		return nil, errors.Wrapf(err, "enable breakpoint at %#x", addr)
	}
	e.breakpoints[addr] = bp
	e.Log.WithField("addr", fmt.Sprintf("%#x", addr)).Debug("breakpoint set")
	return bp, nil
}

// RemoveBreakpoint disables and drops the breakpoint at addr, if any.
func (e *Engine) RemoveBreakpoint(addr uintptr) error {
	bp, ok := e.breakpoints[addr]
	if !ok {
		return nil
	}
	if bp.IsEnabled() {
		if err := bp.Disable(); err != nil {
			return errors.Wrapf(err, "disable breakpoint at %#x", addr)
		}
	}
	delete(e.breakpoints, addr)
	e.Log.WithField("addr", fmt.Sprintf("%#x", addr)).Debug("breakpoint removed")
	return nil
}

// ReadMemory peeks the 8-byte word at addr.
func (e *Engine) ReadMemory(addr uintptr) (uint64, error) {
	return e.Tracee.PeekWord(addr)
}

// WriteMemory pokes val as the 8-byte word at addr.
func (e *Engine) WriteMemory(addr uintptr, val uint64) error {
	return e.Tracee.PokeWord(addr, val)
}

// ReadRegister reads a register by prefix-matched name.
func (e *Engine) ReadRegister(name string) (uint64, error) {
	regs, err := e.Tracee.GetRegs()
	if err != nil {
		return 0, err
	}
	return regset.Get(regs, name)
}

// WriteRegister writes value into a register by prefix-matched name.
func (e *Engine) WriteRegister(name string, value uint64) error {
	regs, err := e.Tracee.GetRegs()
	if err != nil {
		return err
	}
	if err := regset.Set(regs, name, value); err != nil {
		return err
	}
	return e.Tracee.SetRegs(regs)
}

// DumpRegisters prints every descriptor in declared order with its
// 64-bit value in zero-padded hex.
func (e *Engine) DumpRegisters() error {
	regs, err := e.Tracee.GetRegs()
	if err != nil {
		return err
	}
	for _, d := range regset.Descriptors {
		v, err := regset.Get(regs, d.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.Out, "%-8s 0x%016x\n", d.Name, v)
	}
	return nil
}

// StepOverBreakpoint disables the breakpoint at the current PC (if
// any and enabled), single-steps past it, and re-enables it. No-op if
// there is no enabled breakpoint at the current PC.
func (e *Engine) StepOverBreakpoint() error {
	pc, err := e.Tracee.PC()
	if err != nil {
		return err
	}
	bp, ok := e.breakpoints[uintptr(pc)]
	if !ok || !bp.IsEnabled() {
		return nil
	}

	if err := bp.Disable(); err != nil {
		return err
	}
	if err := e.Tracee.SingleStep(); err != nil {
		return err
	}
	if _, err := e.Tracee.Wait(); err != nil {
		return err
	}
	return bp.Enable()
}

// SingleStepInstruction issues a single-step and waits for it to land.
func (e *Engine) SingleStepInstruction() error {
	if err := e.Tracee.SingleStep(); err != nil {
		return err
	}
	return e.WaitForSignal()
}

// SingleStepInstructionWithBreakpointCheck routes through
// StepOverBreakpoint when the current PC is an active breakpoint,
// otherwise issues a plain single step.
func (e *Engine) SingleStepInstructionWithBreakpointCheck() error {
	pc, err := e.Tracee.PC()
	if err != nil {
		return err
	}
	if bp, ok := e.breakpoints[uintptr(pc)]; ok && bp.IsEnabled() {
		return e.StepOverBreakpoint()
	}
	return e.SingleStepInstruction()
}

// ContinueExecution steps over any breakpoint at the current PC, then
// resumes the tracee and waits for its next stop.
func (e *Engine) ContinueExecution() error {
	if err := e.StepOverBreakpoint(); err != nil {
		return err
	}
	if err := e.Tracee.Continue(); err != nil {
		return err
	}
	return e.WaitForSignal()
}

// WaitForSignal blocks for the tracee's next state change and
// dispatches on the delivered signal.
func (e *Engine) WaitForSignal() error {
	status, err := e.Tracee.Wait()
	if err != nil {
		return err
	}
	if status.Exited() {
		fmt.Fprintf(e.Out, "program exited with status %d\n", status.ExitStatus())
		e.Log.WithField("status", status.ExitStatus()).Info("tracee exited")
		return nil
	}
	if !status.Stopped() {
		return nil
	}

	switch status.StopSignal() {
	case syscall.SIGTRAP:
		info, err := e.Tracee.GetSigInfo()
		if err != nil {
			return err
		}
		return e.HandleSigtrap(info)
	case syscall.SIGSEGV:
		info, err := e.Tracee.GetSigInfo()
		if err != nil {
			return err
		}
		fmt.Fprintf(e.Out, "Segmentation fault. Reason: %d\n", info.Code)
		return nil
	default:
		fmt.Fprintf(e.Out, "Got signal %s\n", status.StopSignal())
		return nil
	}
}

// HandleSigtrap dispatches on si_code. A breakpoint trap rewinds PC by
// one byte (undoing the kernel's "PC is past the INT3" convention)
// before resolving and printing source context; a single-step trap
// returns silently.
func (e *Engine) HandleSigtrap(info *tracee.SigInfo) error {
	switch info.Code {
	case tracee.SIKernel, tracee.TrapBrkpt:
		pc, err := e.Tracee.PC()
		if err != nil {
			return err
		}
		pc--
		if err := e.Tracee.SetPC(pc); err != nil {
			return err
		}
		fmt.Fprintf(e.Out, "Hit breakpoint at %#x\n", pc)
		e.Log.WithField("addr", fmt.Sprintf("%#x", pc)).Debug("breakpoint hit")
		return e.printSourceAtRuntimePC(pc)
	case tracee.TrapTrace:
		return nil
	default:
		fmt.Fprintf(e.Out, "Unknown SIGTRAP code %d\n", info.Code)
		return nil
	}
}

func (e *Engine) printSourceAtRuntimePC(runtimePC uint64) error {
	line, err := e.Info.LineFor(e.OffsetLoadAddress(runtimePC))
	if err != nil {
		fmt.Fprintf(e.Out, "cannot resolve source line: %v\n", err)
		return nil
	}
	if err := e.sources.Print(e.Out, line.File, line.Line, 2); err != nil {
		fmt.Fprintf(e.Out, "cannot read source %q: %v\n", line.File, err)
	}
	return nil
}

// StepIn steps instruction by instruction until the DWARF line
// changes, possibly descending into a callee.
func (e *Engine) StepIn() error {
	pc, err := e.Tracee.PC()
	if err != nil {
		return err
	}
	start, err := e.Info.LineFor(e.OffsetLoadAddress(pc))
	if err != nil {
		return err
	}

	for {
		if err := e.SingleStepInstructionWithBreakpointCheck(); err != nil {
			return err
		}
		pc, err = e.Tracee.PC()
		if err != nil {
			return err
		}
		cur, err := e.Info.LineFor(e.OffsetLoadAddress(pc))
		if err != nil {
			return err
		}
		if cur.Line != start.Line || cur.File != start.File {
			break
		}
	}
	return e.printSourceAtRuntimePC(pc)
}

// returnAddress reads the caller's saved return address off the
// current stack frame: [frame_pointer + 8], per the x86-64 System V
// calling convention for a standard prologue.
func (e *Engine) returnAddress() (uint64, error) {
	regs, err := e.Tracee.GetRegs()
	if err != nil {
		return 0, err
	}
	return e.Tracee.PeekWord(uintptr(regs.Rbp + 8))
}

// StepOut runs until the current function returns, by placing a
// temporary breakpoint at the return address (if one isn't already
// there) and continuing.
func (e *Engine) StepOut() error {
	ret, err := e.returnAddress()
	if err != nil {
		return err
	}

	_, alreadyPresent := e.breakpoints[uintptr(ret)]
	if !alreadyPresent {
		if _, err := e.SetBreakpoint(uintptr(ret)); err != nil {
			return err
		}
	}

	if err := e.ContinueExecution(); err != nil {
		if !alreadyPresent {
			_ = e.RemoveBreakpoint(uintptr(ret))
		}
		return err
	}

	if !alreadyPresent {
		return e.RemoveBreakpoint(uintptr(ret))
	}
	return nil
}

// StepOver advances to the next source line in the current function,
// stepping past any calls, by breakpointing every other line in the
// function plus the return address and continuing once. An address
// that already has a breakpoint in the map gets no temporary one and
// is left as it is, so a disabled user breakpoint on an intervening
// line does not stop the step.
func (e *Engine) StepOver() error {
	pc, err := e.Tracee.PC()
	if err != nil {
		return err
	}
	dwarfPC := e.OffsetLoadAddress(pc)

	fn, err := e.Info.FunctionContaining(dwarfPC)
	if err != nil {
		return err
	}
	low, high, err := e.Info.LowHighPC(fn)
	if err != nil {
		return err
	}

	currentLine, err := e.Info.LineFor(dwarfPC)
	if err != nil {
		return err
	}

	entries, err := e.Info.LinesInRange(low, high)
	if err != nil {
		return err
	}

	var installed []uintptr
	for _, ent := range entries {
		if ent.Address == currentLine.Address {
			continue
		}
		runtimeAddr := uintptr(e.ToRuntimeAddress(ent.Address))
		if _, ok := e.breakpoints[runtimeAddr]; ok {
			continue
		}
		if _, err := e.SetBreakpoint(runtimeAddr); err != nil {
			e.cleanupTemporaries(installed)
			return err
		}
		installed = append(installed, runtimeAddr)
	}

	ret, err := e.returnAddress()
	if err != nil {
		e.cleanupTemporaries(installed)
		return err
	}
	retAddr := uintptr(ret)
	if _, ok := e.breakpoints[retAddr]; !ok {
		if _, err := e.SetBreakpoint(retAddr); err != nil {
			e.cleanupTemporaries(installed)
			return err
		}
		installed = append(installed, retAddr)
	}

	err = e.ContinueExecution()
	e.cleanupTemporaries(installed)
	return err
}

func (e *Engine) cleanupTemporaries(addrs []uintptr) {
	for _, addr := range addrs {
		_ = e.RemoveBreakpoint(addr)
	}
}
