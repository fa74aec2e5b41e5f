package repl_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CadenMG/unbug/internal/breakpoint"
	"github.com/CadenMG/unbug/internal/repl"
)

type fakeCommander struct {
	continued    bool
	breakpointAt uintptr
	regs         map[string]uint64
	mem          map[uintptr]uint64
	steppedIn    bool
	steppedOver  bool
	steppedOut   bool
	steppedInstr bool
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{regs: map[string]uint64{}, mem: map[uintptr]uint64{}}
}

func (f *fakeCommander) ContinueExecution() error { f.continued = true; return nil }
func (f *fakeCommander) SetBreakpoint(addr uintptr) (*breakpoint.Breakpoint, error) {
	f.breakpointAt = addr
	return nil, nil
}
func (f *fakeCommander) DumpRegisters() error { return nil }
func (f *fakeCommander) ReadRegister(name string) (uint64, error) {
	return f.regs[name], nil
}
func (f *fakeCommander) WriteRegister(name string, value uint64) error {
	f.regs[name] = value
	return nil
}
func (f *fakeCommander) ReadMemory(addr uintptr) (uint64, error) { return f.mem[addr], nil }
func (f *fakeCommander) WriteMemory(addr uintptr, val uint64) error {
	f.mem[addr] = val
	return nil
}
func (f *fakeCommander) StepIn() error                                  { f.steppedIn = true; return nil }
func (f *fakeCommander) StepOver() error                                { f.steppedOver = true; return nil }
func (f *fakeCommander) StepOut() error                                 { f.steppedOut = true; return nil }
func (f *fakeCommander) SingleStepInstructionWithBreakpointCheck() error { f.steppedInstr = true; return nil }

func TestPrefixMatchingResolvesContinue(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer
	repl.Dispatch(c, &out, "c")
	assert.True(t, c.continued)
}

func TestBreakSetsBreakpoint(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer
	repl.Dispatch(c, &out, "b 0x400080")
	assert.Equal(t, uintptr(0x400080), c.breakpointAt)
}

func TestBreakBadHex(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer
	repl.Dispatch(c, &out, "break 1234")
	assert.Contains(t, out.String(), "Bad hex value given")
}

func TestRegisterWriteReadRoundTrip(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer
	repl.Dispatch(c, &out, "register write rax 0x2a")
	require.Equal(t, uint64(42), c.regs["rax"])

	out.Reset()
	repl.Dispatch(c, &out, "register read rax")
	assert.Equal(t, "42\n", out.String())
}

func TestMemoryReadWrite(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer
	repl.Dispatch(c, &out, "memory write 0x1000 0x2a")
	assert.Equal(t, uint64(42), c.mem[0x1000])

	out.Reset()
	repl.Dispatch(c, &out, "memory read 0x1000")
	assert.Contains(t, out.String(), "0x")
}

func TestUnknownCommand(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer
	repl.Dispatch(c, &out, "frobnicate")
	assert.Contains(t, out.String(), "Unknown command")
	assert.False(t, c.continued)
}

func TestStepCommands(t *testing.T) {
	c := newFakeCommander()
	var out bytes.Buffer

	repl.Dispatch(c, &out, "step")
	assert.True(t, c.steppedIn)

	repl.Dispatch(c, &out, "next")
	assert.True(t, c.steppedOver)

	repl.Dispatch(c, &out, "finish")
	assert.True(t, c.steppedOut)

	repl.Dispatch(c, &out, "stepi")
	assert.True(t, c.steppedInstr)
}
