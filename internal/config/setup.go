package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter runs the interactive first-run setup.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// readSecret reads one line without echo.
	readSecret func() (string, error)
}

// NewPrompter returns a prompter reading from in and writing prompts to out.
// Passwords are read from in like any other answer.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out}
	p.readSecret = p.readLine
	return p
}

// NewTerminalPrompter returns a prompter on stdin/stdout that disables echo
// for passwords when stdin is a terminal.
func NewTerminalPrompter() *Prompter {
	p := NewPrompter(os.Stdin, os.Stdout)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p.readSecret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			_, _ = fmt.Fprintln(p.out)
			return string(b), err
		}
	}
	return p
}

// Setup asks for every default, offering the values in current as the
// answer to an empty reply. The password is hashed with hasher before it is
// returned; an empty reply keeps the current hash.
func (p *Prompter) Setup(current Defaults, hasher Hasher) (Defaults, error) {
	_, _ = fmt.Fprintln(p.out, "kiln setup: press enter to accept the value in brackets.")

	var (
		d   = current
		err error
	)
	if d.ImagePath, err = p.ask("Base image directory", current.ImagePath); err != nil {
		return Defaults{}, err
	}
	if d.StoragePath, err = p.ask("Instance storage directory", current.StoragePath); err != nil {
		return Defaults{}, err
	}
	for {
		if d.DiskSize, err = p.ask("Default disk size", current.DiskSize); err != nil {
			return Defaults{}, err
		}
		_, perr := ParseDiskSize(d.DiskSize)
		if perr == nil {
			break
		}
		_, _ = fmt.Fprintf(p.out, "  %v\n", perr)
	}
	if d.RAMMiB, err = p.askInt("Default RAM (MiB)", current.RAMMiB); err != nil {
		return Defaults{}, err
	}
	if d.VCPUs, err = p.askInt("Default vCPUs", current.VCPUs); err != nil {
		return Defaults{}, err
	}

	hash, err := p.askPassword(current.PasswordHash.IsSet(), hasher)
	if err != nil {
		return Defaults{}, err
	}
	if hash != "" {
		d.PasswordHash = Secret(hash)
	}

	if err := d.Validate(); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

func (p *Prompter) ask(label, def string) (string, error) {
	_, _ = fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (p *Prompter) askInt(label string, def int) (int, error) {
	for {
		answer, err := p.ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n > 0 {
			return n, nil
		}
		_, _ = fmt.Fprintf(p.out, "  %q is not a positive number\n", answer)
	}
}

func (p *Prompter) askPassword(haveCurrent bool, hasher Hasher) (string, error) {
	for {
		if haveCurrent {
			_, _ = fmt.Fprint(p.out, "Primary user password [keep current]: ")
		} else {
			_, _ = fmt.Fprint(p.out, "Primary user password: ")
		}
		first, err := p.readSecret()
		if err != nil {
			return "", err
		}
		if first == "" {
			if haveCurrent {
				return "", nil
			}
			_, _ = fmt.Fprintln(p.out, "  a password is required")
			continue
		}

		_, _ = fmt.Fprint(p.out, "Confirm password: ")
		second, err := p.readSecret()
		if err != nil {
			return "", err
		}
		if first != second {
			_, _ = fmt.Fprintln(p.out, "  passwords do not match")
			continue
		}
		return hasher.Hash(first)
	}
}

// readLine returns the next line without its terminator. EOF with no data is
// an error so that a closed stdin cannot loop forever.
func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
