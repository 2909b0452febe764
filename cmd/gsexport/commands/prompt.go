package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  int(os.Stdin.Fd()),
	}
}

func (p *terminalPrompter) Prompt(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptPassword hides the input when stdin is a terminal.
func (p *terminalPrompter) PromptPassword(label string) (string, error) {
	if !term.IsTerminal(p.fd) {
		return p.Prompt(label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	password, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
