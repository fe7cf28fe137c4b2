package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".phd2ctl_history"
	historySize     = 500
)

// lineEditor reads REPL input in one of two modes. When stdin is a TTY it
// uses ergochat/readline for Emacs keybindings, persistent history, and
// Ctrl-R search; when input is piped it falls back to bufio.Scanner and
// prints the prompt manually.
type lineEditor struct {
	interactive bool
	rl          *readline.Instance
	scanner     *bufio.Scanner
}

func newLineEditor() *lineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:  filepath.Join(homeDir(), historyFileName),
		HistoryLimit: historySize,
		// History is saved explicitly for non-empty lines only.
		DisableAutoSaveHistory: true,
		Prompt:                 "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}
	return &lineEditor{interactive: true, rl: rl}
}

// getLine reads one line, returning io.EOF when input is exhausted.
func (le *lineEditor) getLine(prompt string) (string, error) {
	if !le.interactive {
		fmt.Print(prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			// Ctrl-C on an empty line: clear it, keep the session.
			return "", nil
		}
		return "", err
	}
	if line != "" {
		le.rl.SaveToHistory(line)
	}
	return line, nil
}

// writer returns the sink for asynchronous output. In interactive mode the
// readline instance repaints the prompt after each write, so event lines do
// not mangle the line being edited.
func (le *lineEditor) writer() io.Writer {
	if le.interactive {
		return le.rl
	}
	return os.Stdout
}

func (le *lineEditor) close() {
	if le.rl != nil {
		le.rl.Close()
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
