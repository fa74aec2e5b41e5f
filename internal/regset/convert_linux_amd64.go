package regset

import "syscall"

// FromPtrace copies a syscall.PtraceRegs snapshot into the
// architecture-neutral Regs shape the rest of unbug operates on.
func FromPtrace(pr *syscall.PtraceRegs) *Regs {
	return &Regs{
		R15:     pr.R15,
		R14:     pr.R14,
		R13:     pr.R13,
		R12:     pr.R12,
		Rbp:     pr.Rbp,
		Rbx:     pr.Rbx,
		R11:     pr.R11,
		R10:     pr.R10,
		R9:      pr.R9,
		R8:      pr.R8,
		Rax:     pr.Rax,
		Rcx:     pr.Rcx,
		Rdx:     pr.Rdx,
		Rsi:     pr.Rsi,
		Rdi:     pr.Rdi,
		OrigRax: pr.Orig_rax,
		Rip:     pr.Rip,
		Cs:      pr.Cs,
		Eflags:  pr.Eflags,
		Rsp:     pr.Rsp,
		Ss:      pr.Ss,
		FsBase:  pr.Fs_base,
		GsBase:  pr.Gs_base,
		Ds:      pr.Ds,
		Es:      pr.Es,
		Fs:      pr.Fs,
		Gs:      pr.Gs,
	}
}

// ApplyTo writes r back into pr, the inverse of FromPtrace.
func (r *Regs) ApplyTo(pr *syscall.PtraceRegs) {
	pr.R15 = r.R15
	pr.R14 = r.R14
	pr.R13 = r.R13
	pr.R12 = r.R12
	pr.Rbp = r.Rbp
	pr.Rbx = r.Rbx
	pr.R11 = r.R11
	pr.R10 = r.R10
	pr.R9 = r.R9
	pr.R8 = r.R8
	pr.Rax = r.Rax
	pr.Rcx = r.Rcx
	pr.Rdx = r.Rdx
	pr.Rsi = r.Rsi
	pr.Rdi = r.Rdi
	pr.Orig_rax = r.OrigRax
	pr.Rip = r.Rip
	pr.Cs = r.Cs
	pr.Eflags = r.Eflags
	pr.Rsp = r.Rsp
	pr.Ss = r.Ss
	pr.Fs_base = r.FsBase
	pr.Gs_base = r.GsBase
	pr.Ds = r.Ds
	pr.Es = r.Es
	pr.Fs = r.Fs
	pr.Gs = r.Gs
}
