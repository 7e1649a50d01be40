package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrNonInteractive is returned when a value is missing and stdin is not a terminal
var ErrNonInteractive = errors.New("stdin is not a terminal")

// Prompter asks the user for a value
type Prompter interface {
	Prompt(label, defaultValue string, secret bool) (string, error)
}

type terminalPrompter struct {
	out io.Writer
}

func newTerminalPrompter(out io.Writer) *terminalPrompter {
	return &terminalPrompter{out: out}
}

func (p *terminalPrompter) Prompt(label, defaultValue string, secret bool) (string, error) {
	// Check if stdin is a terminal (not piped)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", ErrNonInteractive
	}

	prompt := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
		Stdout:  nopWriteCloser{p.out},
	}
	if secret {
		prompt.Mask = '*'
	}

	value, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt cancelled: %w", err)
	}
	return value, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// valueOr returns value, else the env var, else prompts. hint names the flag
// and env var in the non-interactive error.
func (e *Env) valueOr(value, envVar, label, defaultValue string, secret bool, hint string) (string, error) {
	if value != "" {
		return value, nil
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}

	v, err := e.prompter.Prompt(label, defaultValue, secret)
	if errors.Is(err, ErrNonInteractive) {
		return "", fmt.Errorf("%s is required in non-interactive mode (%s)", label, hint)
	}
	return v, err
}
