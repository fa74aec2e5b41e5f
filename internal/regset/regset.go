// Package regset describes the x86-64 register file unbug exposes to
// the REPL: a fixed descriptor table mapping canonical register names
// to their field in the kernel's register block, independent of how
// those values are actually fetched from a tracee.
package regset

import "github.com/pkg/errors"

// Descriptor names one register in the architecture's register file.
type Descriptor struct {
	Name string
	get  func(*Regs) uint64
	set  func(*Regs, uint64)
}

// Regs mirrors the kernel's x86-64 user_regs_struct layout (the same
// field set syscall.PtraceRegs exposes on linux/amd64).
type Regs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	OrigRax  uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	FsBase   uint64
	GsBase   uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

func field(name string, get func(*Regs) uint64, set func(*Regs, uint64)) Descriptor {
	return Descriptor{Name: name, get: get, set: set}
}

// Descriptors is the canonical, declared-order register table. Order
// matters: the engine's register dump prints in this order, and prefix matching on register
// names resolves ties by walking this list in order.
var Descriptors = []Descriptor{
	field("rax", func(r *Regs) uint64 { return r.Rax }, func(r *Regs, v uint64) { r.Rax = v }),
	field("rbx", func(r *Regs) uint64 { return r.Rbx }, func(r *Regs, v uint64) { r.Rbx = v }),
	field("rcx", func(r *Regs) uint64 { return r.Rcx }, func(r *Regs, v uint64) { r.Rcx = v }),
	field("rdx", func(r *Regs) uint64 { return r.Rdx }, func(r *Regs, v uint64) { r.Rdx = v }),
	field("rdi", func(r *Regs) uint64 { return r.Rdi }, func(r *Regs, v uint64) { r.Rdi = v }),
	field("rsi", func(r *Regs) uint64 { return r.Rsi }, func(r *Regs, v uint64) { r.Rsi = v }),
	field("rbp", func(r *Regs) uint64 { return r.Rbp }, func(r *Regs, v uint64) { r.Rbp = v }),
	field("rsp", func(r *Regs) uint64 { return r.Rsp }, func(r *Regs, v uint64) { r.Rsp = v }),
	field("r8", func(r *Regs) uint64 { return r.R8 }, func(r *Regs, v uint64) { r.R8 = v }),
	field("r9", func(r *Regs) uint64 { return r.R9 }, func(r *Regs, v uint64) { r.R9 = v }),
	field("r10", func(r *Regs) uint64 { return r.R10 }, func(r *Regs, v uint64) { r.R10 = v }),
	field("r11", func(r *Regs) uint64 { return r.R11 }, func(r *Regs, v uint64) { r.R11 = v }),
	field("r12", func(r *Regs) uint64 { return r.R12 }, func(r *Regs, v uint64) { r.R12 = v }),
	field("r13", func(r *Regs) uint64 { return r.R13 }, func(r *Regs, v uint64) { r.R13 = v }),
	field("r14", func(r *Regs) uint64 { return r.R14 }, func(r *Regs, v uint64) { r.R14 = v }),
	field("r15", func(r *Regs) uint64 { return r.R15 }, func(r *Regs, v uint64) { r.R15 = v }),
	field("rip", func(r *Regs) uint64 { return r.Rip }, func(r *Regs, v uint64) { r.Rip = v }),
	field("eflags", func(r *Regs) uint64 { return r.Eflags }, func(r *Regs, v uint64) { r.Eflags = v }),
	field("cs", func(r *Regs) uint64 { return r.Cs }, func(r *Regs, v uint64) { r.Cs = v }),
	field("orig_rax", func(r *Regs) uint64 { return r.OrigRax }, func(r *Regs, v uint64) { r.OrigRax = v }),
	field("fs_base", func(r *Regs) uint64 { return r.FsBase }, func(r *Regs, v uint64) { r.FsBase = v }),
	field("gs_base", func(r *Regs) uint64 { return r.GsBase }, func(r *Regs, v uint64) { r.GsBase = v }),
	field("fs", func(r *Regs) uint64 { return r.Fs }, func(r *Regs, v uint64) { r.Fs = v }),
	field("gs", func(r *Regs) uint64 { return r.Gs }, func(r *Regs, v uint64) { r.Gs = v }),
	field("ss", func(r *Regs) uint64 { return r.Ss }, func(r *Regs, v uint64) { r.Ss = v }),
	field("ds", func(r *Regs) uint64 { return r.Ds }, func(r *Regs, v uint64) { r.Ds = v }),
	field("es", func(r *Regs) uint64 { return r.Es }, func(r *Regs, v uint64) { r.Es = v }),
}

// ErrUnknownRegister is returned when a name does not prefix-match any
// descriptor in the table.
var ErrUnknownRegister = errors.New("unknown register")

// Find resolves name by case-sensitive prefix match against the
// declared order above; the first match wins.
func Find(name string) (Descriptor, error) {
	for _, d := range Descriptors {
		if len(name) <= len(d.Name) && d.Name[:len(name)] == name {
			return d, nil
		}
	}
	return Descriptor{}, errors.Wrapf(ErrUnknownRegister, "%q", name)
}

// Get reads the named register out of regs.
func Get(regs *Regs, name string) (uint64, error) {
	d, err := Find(name)
	if err != nil {
		return 0, err
	}
	return d.get(regs), nil
}

// Set writes value into the named register in regs.
func Set(regs *Regs, name string, value uint64) error {
	d, err := Find(name)
	if err != nil {
		return err
	}
	d.set(regs, value)
	return nil
}
