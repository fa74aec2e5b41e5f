package repl

import (
	"io"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
)

// Run drives the prompt loop: read a line, dispatch it, repeat until
// EOF or a read error. An interrupt discards the current line and
// prompts again. historyFile persists command history across
// invocations.
func Run(eng Commander, out io.Writer, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "unbug> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return errors.Wrap(err, "init readline")
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "readline")
		}

		Dispatch(eng, out, line)
	}
}

// DefaultHistoryFile is the .dbg_history-equivalent path used when the
// caller doesn't override it with --history-file.
const DefaultHistoryFile = ".dbg_history"
