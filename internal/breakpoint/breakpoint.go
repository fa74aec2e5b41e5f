// Package breakpoint implements the one-shot software breakpoint:
// patching a single INT3 byte into a tracee's text and restoring it.
package breakpoint

import "github.com/CadenMG/unbug/internal/bytesutil"

const int3 = 0xcc

// WordReadWriter is the minimal tracee capability a breakpoint needs:
// peek and poke an 8-byte aligned word at a virtual address.
type WordReadWriter interface {
	PeekWord(addr uintptr) (uint64, error)
	PokeWord(addr uintptr, word uint64) error
}

// Breakpoint is a software trap at a fixed virtual address in one
// tracee. It is never moved; removal is Disable followed by the owner
// dropping it from whatever map holds it.
type Breakpoint struct {
	tracee  WordReadWriter
	addr    uintptr
	enabled bool
	saved   byte
}

// New constructs a disabled breakpoint at addr. Enable must be called
// before the trap takes effect.
func New(tracee WordReadWriter, addr uintptr) *Breakpoint {
	return &Breakpoint{tracee: tracee, addr: addr}
}

// Addr returns the breakpoint's virtual address.
func (b *Breakpoint) Addr() uintptr { return b.addr }

// IsEnabled reports whether the trap is currently installed.
func (b *Breakpoint) IsEnabled() bool { return b.enabled }

// Enable installs the INT3 trap, saving the original low byte first.
// Calling Enable on an already-enabled breakpoint re-observes the
// current byte; the engine never does this.
func (b *Breakpoint) Enable() error {
	word, err := b.tracee.PeekWord(b.addr)
	if err != nil {
		return err
	}
	b.saved = bytesutil.BottomByte(word)
	patched := bytesutil.SetBottomByte(word, int3)
	if err := b.tracee.PokeWord(b.addr, patched); err != nil {
		return err
	}
	b.enabled = true
	return nil
}

// Disable restores the original byte and clears the enabled flag.
func (b *Breakpoint) Disable() error {
	word, err := b.tracee.PeekWord(b.addr)
	if err != nil {
		return err
	}
	restored := bytesutil.SetBottomByte(word, b.saved)
	if err := b.tracee.PokeWord(b.addr, restored); err != nil {
		return err
	}
	b.enabled = false
	return nil
}
