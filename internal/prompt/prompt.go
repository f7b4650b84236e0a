// Package prompt reads answers from an interactive user. Secrets are read
// without echo when the input is a terminal and are returned in memguard
// locked buffers.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/term"
)

// ErrEmpty is returned when a required answer is blank.
var ErrEmpty = errors.New("empty answer")

// Prompter asks questions on out and reads answers from in.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool

	// readPassword is replaced in tests.
	readPassword func(fd int) ([]byte, error)
}

// New returns a Prompter over in and out. When in is a terminal, secrets
// are read without echo.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{
		in:           bufio.NewReader(in),
		out:          out,
		fd:           -1,
		readPassword: term.ReadPassword,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}
	return p
}

// Stdio returns a Prompter on the process's standard streams. Questions go
// to stderr so stdout stays clean for output.
func Stdio() *Prompter {
	return New(os.Stdin, os.Stderr)
}

// Line asks label and returns the trimmed answer. A blank answer yields
// ErrEmpty.
func (p *Prompter) Line(label string) (string, error) {
	if _, err := fmt.Fprintf(p.out, "%s: ", label); err != nil {
		return "", err
	}
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s: %w", label, ErrEmpty)
	}
	return line, nil
}

// Optional is Line with a blank answer allowed. It reports whether anything
// was entered.
func (p *Prompter) Optional(label string) (string, bool, error) {
	s, err := p.Line(label + " (optional)")
	if errors.Is(err, ErrEmpty) {
		return "", false, nil
	}
	return s, err == nil, err
}

// Secret asks label and reads the answer without echo. The caller must
// Destroy the returned buffer.
func (p *Prompter) Secret(label string) (*memguard.LockedBuffer, error) {
	if _, err := fmt.Fprintf(p.out, "%s: ", label); err != nil {
		return nil, err
	}

	var raw []byte
	if p.tty {
		b, err := p.readPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", label, err)
		}
		raw = b
	} else {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}
		raw = []byte(strings.TrimRight(line, "\r\n"))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", label, ErrEmpty)
	}
	// NewBufferFromBytes wipes raw.
	return memguard.NewBufferFromBytes(raw), nil
}

// NewSecret asks for a secret twice and fails unless both answers match.
func (p *Prompter) NewSecret(label string) (*memguard.LockedBuffer, error) {
	first, err := p.Secret(label)
	if err != nil {
		return nil, err
	}
	second, err := p.Secret("Confirm " + strings.ToLower(label))
	if err != nil {
		first.Destroy()
		return nil, err
	}
	defer second.Destroy()
	if !first.EqualTo(second.Bytes()) {
		first.Destroy()
		return nil, errors.New("entries do not match")
	}
	return first, nil
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}
