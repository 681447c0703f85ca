package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var errNotTerminal = errors.New("stdin is not a terminal")

// GetPassphrase prompts on w and reads a passphrase from the terminal without
// echo. The caller should wipe the returned slice when done with it.
func GetPassphrase(w io.Writer) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return nil, errNotTerminal
	}
	if _, err := fmt.Fprint(w, "Secret passphrase: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// openInput returns stdin for "-" and the named file otherwise.
func openInput(stdin io.Reader, name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(name)
}
