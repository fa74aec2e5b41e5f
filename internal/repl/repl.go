// Package repl implements the command dispatcher: tokenizing a REPL
// line, routing it by prefix to a debugger operation, and formatting
// results, independent of how the line was read.
package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/CadenMG/unbug/internal/breakpoint"
	"github.com/CadenMG/unbug/internal/bytesutil"
)

// Commander is the subset of the debugger engine the dispatcher
// drives; kept narrow so it can be faked in tests.
type Commander interface {
	ContinueExecution() error
	SetBreakpoint(addr uintptr) (*breakpoint.Breakpoint, error)
	DumpRegisters() error
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
	ReadMemory(addr uintptr) (uint64, error)
	WriteMemory(addr uintptr, val uint64) error
	StepIn() error
	StepOver() error
	StepOut() error
	SingleStepInstructionWithBreakpointCheck() error
}

// commands is the declared order prefix-matching ties resolve against:
// continue, break, register, memory, step, next, finish, stepi.
var commands = []string{"continue", "break", "register", "memory", "step", "next", "finish", "stepi"}

// registerSubcommands and memorySubcommands are matched the same way,
// in the order the REPL surface names them.
var registerSubcommands = []string{"dump", "read", "write"}
var memorySubcommands = []string{"read", "write"}

func matchPrefix(token string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if bytesutil.IsPrefix(token, c) {
			return c, true
		}
	}
	return "", false
}

// Dispatch tokenizes line on spaces and routes it to eng, writing any
// diagnostics or results to out. It never panics on malformed input;
// unknown or malformed commands print "Unknown command" and leave eng
// untouched.
func Dispatch(eng Commander, out io.Writer, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	tokens := bytesutil.Split(line, ' ')
	cmd, ok := matchPrefix(tokens[0], commands)
	if !ok {
		fmt.Fprintln(out, "Unknown command")
		return
	}
	args := tokens[1:]

	switch cmd {
	case "continue":
		runOrPrint(out, eng.ContinueExecution)
	case "break":
		dispatchBreak(eng, out, args)
	case "register":
		dispatchRegister(eng, out, args)
	case "memory":
		dispatchMemory(eng, out, args)
	case "step":
		runOrPrint(out, eng.StepIn)
	case "next":
		runOrPrint(out, eng.StepOver)
	case "finish":
		runOrPrint(out, eng.StepOut)
	case "stepi":
		runOrPrint(out, eng.SingleStepInstructionWithBreakpointCheck)
	}
}

func runOrPrint(out io.Writer, op func() error) {
	if err := op(); err != nil {
		fmt.Fprintln(out, err)
	}
}

func dispatchBreak(eng Commander, out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Unknown command")
		return
	}
	addr, err := bytesutil.ParseAddr(args[0])
	if err != nil {
		fmt.Fprintln(out, "Bad hex value given")
		return
	}
	if _, err := eng.SetBreakpoint(addr); err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintf(out, "Set breakpoint at address %#x\n", addr)
}

func dispatchRegister(eng Commander, out io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "Unknown command")
		return
	}
	sub, ok := matchPrefix(args[0], registerSubcommands)
	if !ok {
		fmt.Fprintln(out, "Unknown command")
		return
	}
	rest := args[1:]

	switch sub {
	case "dump":
		runOrPrint(out, eng.DumpRegisters)
	case "read":
		if len(rest) != 1 {
			fmt.Fprintln(out, "Unknown command")
			return
		}
		v, err := eng.ReadRegister(rest[0])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		fmt.Fprintln(out, v)
	case "write":
		if len(rest) != 2 {
			fmt.Fprintln(out, "Unknown command")
			return
		}
		value, err := bytesutil.ParseHex(rest[1])
		if err != nil {
			fmt.Fprintln(out, "Bad hex value given")
			return
		}
		if err := eng.WriteRegister(rest[0], value); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}

func dispatchMemory(eng Commander, out io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "Unknown command")
		return
	}
	sub, ok := matchPrefix(args[0], memorySubcommands)
	if !ok {
		fmt.Fprintln(out, "Unknown command")
		return
	}
	rest := args[1:]

	switch sub {
	case "read":
		if len(rest) != 1 {
			fmt.Fprintln(out, "Unknown command")
			return
		}
		addr, err := bytesutil.ParseAddr(rest[0])
		if err != nil {
			fmt.Fprintln(out, "Bad hex value given")
			return
		}
		v, err := eng.ReadMemory(addr)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		fmt.Fprintf(out, "%#016x\n", v)
	case "write":
		if len(rest) != 2 {
			fmt.Fprintln(out, "Unknown command")
			return
		}
		addr, err := bytesutil.ParseAddr(rest[0])
		if err != nil {
			fmt.Fprintln(out, "Bad hex value given")
			return
		}
		value, err := bytesutil.ParseHex(rest[1])
		if err != nil {
			fmt.Fprintln(out, "Bad hex value given")
			return
		}
		if err := eng.WriteMemory(addr, value); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}
