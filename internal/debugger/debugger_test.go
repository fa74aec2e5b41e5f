package debugger_test

import (
	"bytes"
	"debug/dwarf"
	"strings"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CadenMG/unbug/internal/debugger"
	"github.com/CadenMG/unbug/internal/dwarfinfo"
	"github.com/CadenMG/unbug/internal/regset"
	"github.com/CadenMG/unbug/internal/tracee"
)

// fakeTracee is an in-memory stand-in for a real ptrace'd process: a
// word-addressed "memory" map and a register set. SingleStep advances
// PC by instrSize to simulate instruction progress without a real CPU;
// Continue leaves PC unchanged, and every Wait reports a stop by
// sigSignal.
type fakeTracee struct {
	regs       regset.Regs
	mem        map[uintptr]uint64
	sigSignal  syscall.Signal
	sigCode    int32
	exited     bool
	exitStatus int
	// instrSize models how far a single-step advances RIP.
	instrSize uint64
}

func newFakeTracee() *fakeTracee {
	return &fakeTracee{mem: make(map[uintptr]uint64), instrSize: 1, sigSignal: syscall.SIGTRAP, sigCode: int32(tracee.TrapTrace)}
}

func (f *fakeTracee) Continue() error { return nil }
func (f *fakeTracee) SingleStep() error {
	f.regs.Rip += f.instrSize
	return nil
}
func (f *fakeTracee) PeekWord(addr uintptr) (uint64, error) { return f.mem[addr], nil }
func (f *fakeTracee) PokeWord(addr uintptr, word uint64) error {
	f.mem[addr] = word
	return nil
}
func (f *fakeTracee) GetRegs() (*regset.Regs, error) {
	r := f.regs
	return &r, nil
}
func (f *fakeTracee) SetRegs(r *regset.Regs) error {
	f.regs = *r
	return nil
}
func (f *fakeTracee) PC() (uint64, error)         { return f.regs.Rip, nil }
func (f *fakeTracee) SetPC(pc uint64) error        { f.regs.Rip = pc; return nil }
func (f *fakeTracee) GetSigInfo() (*tracee.SigInfo, error) {
	return &tracee.SigInfo{Signo: int32(f.sigSignal), Code: f.sigCode}, nil
}
func (f *fakeTracee) Wait() (tracee.WaitStatus, error) {
	return tracee.NewStoppedWaitStatus(f.sigSignal), nil
}

// fakeDebugInfo supplies a single synthetic line table for the tests
// below, independent of real DWARF parsing.
type fakeDebugInfo struct {
	lines []dwarfinfo.LineEntry
}

func (f *fakeDebugInfo) FunctionContaining(pc uint64) (*dwarf.Entry, error) {
	return &dwarf.Entry{}, nil
}

func (f *fakeDebugInfo) LowHighPC(entry *dwarf.Entry) (uint64, uint64, error) {
	return f.lines[0].Address, f.lines[len(f.lines)-1].Address + 1, nil
}

func (f *fakeDebugInfo) LineFor(pc uint64) (dwarfinfo.LineEntry, error) {
	var match dwarfinfo.LineEntry
	found := false
	for _, l := range f.lines {
		if l.Address <= pc {
			match = l
			found = true
		}
	}
	if !found {
		return dwarfinfo.LineEntry{}, dwarfinfo.ErrNotFound
	}
	return match, nil
}

func (f *fakeDebugInfo) LinesInRange(low, high uint64) ([]dwarfinfo.LineEntry, error) {
	var out []dwarfinfo.LineEntry
	for _, l := range f.lines {
		if l.Address >= low && l.Address < high {
			out = append(out, l)
		}
	}
	return out, nil
}

func newEngine(tr *fakeTracee, info *fakeDebugInfo) (*debugger.Engine, *bytes.Buffer) {
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)
	return debugger.New(tr, info, 0, &out, log), &out
}

func TestSetBreakpointPatchesAndRestoresByte(t *testing.T) {
	tr := newFakeTracee()
	tr.mem[0x1000] = 0x1122334455667788
	info := &fakeDebugInfo{}
	e, _ := newEngine(tr, info)

	bp, err := e.SetBreakpoint(0x1000)
	require.NoError(t, err)
	assert.True(t, bp.IsEnabled())
	assert.Equal(t, byte(0xcc), byte(tr.mem[0x1000]&0xff))

	require.NoError(t, e.RemoveBreakpoint(0x1000))
	assert.Equal(t, uint64(0x1122334455667788), tr.mem[0x1000])
}

func TestHandleSigtrapRewindsPC(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rip = 0x2001
	info := &fakeDebugInfo{lines: []dwarfinfo.LineEntry{{File: "main.c", Line: 10, Address: 0x2000}}}
	e, out := newEngine(tr, info)

	// main.c does not exist; the engine prints a diagnostic for the
	// unreadable source and still returns nil. We don't assert on Out
	// content beyond the "Hit" line.
	err := e.HandleSigtrap(&tracee.SigInfo{Signo: int32(syscall.SIGTRAP), Code: int32(tracee.TrapBrkpt)})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2000), tr.regs.Rip)
	assert.Contains(t, out.String(), "Hit breakpoint at 0x2000")
}

func TestStepOverBreakpointIsNoOpWithoutBreakpoint(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rip = 0x3000
	info := &fakeDebugInfo{}
	e, _ := newEngine(tr, info)

	require.NoError(t, e.StepOverBreakpoint())
	assert.Equal(t, uint64(0x3000), tr.regs.Rip)
}

func TestDumpRegistersDeclaredOrder(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rax = 42
	info := &fakeDebugInfo{}
	e, out := newEngine(tr, info)

	require.NoError(t, e.DumpRegisters())
	got := out.String()
	assert.Contains(t, got, "rax")
	assert.True(t, strings.HasPrefix(got, "rax "), "first line must be rax")
	assert.Less(t, strings.Index(got, "rip"), strings.Index(got, "eflags"))
}

func TestReadWriteRegisterRoundTrip(t *testing.T) {
	tr := newFakeTracee()
	info := &fakeDebugInfo{}
	e, _ := newEngine(tr, info)

	require.NoError(t, e.WriteRegister("rax", 42))
	v, err := e.ReadRegister("rax")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestStepInAdvancesToNextLine(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rip = 0x2000
	info := &fakeDebugInfo{lines: []dwarfinfo.LineEntry{
		{File: "", Line: 10, Address: 0x2000},
		{File: "", Line: 11, Address: 0x2003},
	}}
	e, _ := newEngine(tr, info)

	require.NoError(t, e.StepIn())
	assert.Equal(t, uint64(0x2003), tr.regs.Rip)
}

func TestStepOverRemovesAllTemporaryBreakpoints(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rip = 0x3000
	tr.regs.Rbp = 0x5000
	tr.mem[0x3008] = 0x1111111111111111
	tr.mem[0x5008] = 0x9999 // saved return address

	info := &fakeDebugInfo{lines: []dwarfinfo.LineEntry{
		{File: "", Line: 20, Address: 0x3000},
		{File: "", Line: 21, Address: 0x3008},
		{File: "", Line: 22, Address: 0x3010},
	}}
	e, _ := newEngine(tr, info)

	require.NoError(t, e.StepOver())

	assert.Equal(t, uint64(0x1111111111111111), tr.mem[0x3008], "temporary breakpoint at next line must be fully removed")
	assert.Equal(t, byte(0), byte(tr.mem[0x9999]&0xff), "temporary breakpoint at return address must be fully removed")
}

func TestStepOutInstallsAndRemovesReturnBreakpoint(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rip = 0x3000
	tr.regs.Rbp = 0x5000
	tr.mem[0x5008] = 0x9999 // saved return address

	info := &fakeDebugInfo{}
	e, _ := newEngine(tr, info)

	require.NoError(t, e.StepOut())

	assert.Equal(t, byte(0), byte(tr.mem[0x9999]&0xff), "return-address breakpoint must be fully removed")
	_, err := e.ReadRegister("rip")
	require.NoError(t, err)
}

func TestStepOutLeavesPreexistingBreakpointInPlace(t *testing.T) {
	tr := newFakeTracee()
	tr.regs.Rip = 0x3000
	tr.regs.Rbp = 0x5000
	tr.mem[0x5008] = 0x9999

	info := &fakeDebugInfo{}
	e, _ := newEngine(tr, info)

	bp, err := e.SetBreakpoint(0x9999)
	require.NoError(t, err)
	require.True(t, bp.IsEnabled())

	require.NoError(t, e.StepOut())

	assert.Equal(t, byte(0xcc), byte(tr.mem[0x9999]&0xff), "a breakpoint the user set at the return address must survive StepOut")
}

func TestOffsetLoadAddressRoundTrip(t *testing.T) {
	tr := newFakeTracee()
	info := &fakeDebugInfo{}
	e := debugger.New(tr, info, 0x555555554000, &bytes.Buffer{}, logrus.New())

	runtimeAddr := uint64(0x555555555149)
	dwarfAddr := e.OffsetLoadAddress(runtimeAddr)
	assert.Equal(t, runtimeAddr, e.ToRuntimeAddress(dwarfAddr))
}
