// Package dwarfinfo is the debug-info facade: a read-only view over a
// binary's ELF header and DWARF tree answering the three queries the
// debugger engine needs — which function contains a PC, which line
// entry covers a PC, and a subprogram's low/high PC bounds.
package dwarfinfo

import (
	"debug/dwarf"
	"debug/elf"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by the lookup queries when no DIE or line
// entry covers the requested PC; callers decide per call site whether
// that is recoverable ("cannot step here") or fatal.
var ErrNotFound = errors.New("debug info: not found")

// LineEntry is one row of a compilation unit's line table.
type LineEntry struct {
	File    string
	Line    int
	Address uint64
}

// Info wraps a loaded executable's ELF and DWARF data.
type Info struct {
	elfFile *elf.File
	dwarf   *dwarf.Data
	isPIE   bool
}

// Load opens path, reads its ELF header (to learn whether it is
// position-independent) and its DWARF sections.
func Load(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open executable")
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, errors.Wrap(err, "parse elf")
	}

	dw, err := ef.DWARF()
	if err != nil {
		return nil, errors.Wrap(err, "parse dwarf")
	}

	return &Info{
		elfFile: ef,
		dwarf:   dw,
		isPIE:   ef.Type == elf.ET_DYN,
	}, nil
}

// IsPIE reports whether the loaded executable is position-independent
// (and therefore needs a nonzero load-address offset at runtime).
func (in *Info) IsPIE() bool { return in.isPIE }

// FunctionContaining returns the DW_TAG_subprogram DIE whose [low_pc,
// high_pc) range contains pc, in DWARF address space.
func (in *Info) FunctionContaining(pc uint64) (*dwarf.Entry, error) {
	r := in.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, errors.Wrap(err, "dwarf reader")
		}
		if entry == nil {
			return nil, errors.Wrapf(ErrNotFound, "function containing %#x", pc)
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, high, ok := lowHigh(entry)
		if !ok {
			continue
		}
		if pc >= low && pc < high {
			return entry, nil
		}
	}
}

// LowHighPC returns a subprogram DIE's [low_pc, high_pc) bounds.
func (in *Info) LowHighPC(entry *dwarf.Entry) (low, high uint64, err error) {
	l, h, ok := lowHigh(entry)
	if !ok {
		return 0, 0, errors.Wrap(ErrNotFound, "entry has no pc range")
	}
	return l, h, nil
}

func lowHigh(entry *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal := entry.Val(dwarf.AttrLowpc)
	low, ok = lowVal.(uint64)
	if !ok {
		return 0, 0, false
	}
	highVal := entry.Val(dwarf.AttrHighpc)
	switch h := highVal.(type) {
	case uint64:
		// DWARF4+ commonly encodes high_pc as an offset from low_pc.
		if h < low {
			high = low + h
		} else {
			high = h
		}
	case int64:
		high = low + uint64(h)
	default:
		return 0, 0, false
	}
	return low, high, true
}

// LineFor returns the line-table entry covering pc. Entries after the
// match are reached through LinesInRange.
func (in *Info) LineFor(pc uint64) (LineEntry, error) {
	r := in.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return LineEntry{}, errors.Wrap(err, "dwarf reader")
		}
		if cu == nil {
			return LineEntry{}, errors.Wrapf(ErrNotFound, "line for %#x", pc)
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		lr, err := in.dwarf.LineReader(cu)
		if err != nil || lr == nil {
			continue
		}

		var entry dwarf.LineEntry
		var prev dwarf.LineEntry
		havePrev := false
		for {
			if err := lr.Next(&entry); err != nil {
				if err == io.EOF {
					break
				}
				return LineEntry{}, errors.Wrap(err, "line reader")
			}
			if havePrev && pc >= prev.Address && pc < entry.Address {
				return LineEntry{File: prev.File.Name, Line: prev.Line, Address: prev.Address}, nil
			}
			prev = entry
			havePrev = true
		}
		if havePrev && pc == prev.Address {
			return LineEntry{File: prev.File.Name, Line: prev.Line, Address: prev.Address}, nil
		}
	}
}

// LinesInRange returns every line-table entry whose address lies in
// [low, high), across all compilation units, in the order the line
// tables list them; the result is not sorted by address.
func (in *Info) LinesInRange(low, high uint64) ([]LineEntry, error) {
	var out []LineEntry
	r := in.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return nil, errors.Wrap(err, "dwarf reader")
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}
		lr, err := in.dwarf.LineReader(cu)
		if err != nil || lr == nil {
			continue
		}
		var entry dwarf.LineEntry
		for {
			if err := lr.Next(&entry); err != nil {
				if err == io.EOF {
					break
				}
				return nil, errors.Wrap(err, "line reader")
			}
			if entry.Address >= low && entry.Address < high {
				out = append(out, LineEntry{File: entry.File.Name, Line: entry.Line, Address: entry.Address})
			}
		}
	}
	return out, nil
}
