package main

import (
	"errors"
	"os"

	"golang.org/x/term"
)

var errNotTerminal = errors.New("stdin is not a terminal; attach needs an interactive terminal")

// hostTTY is the local terminal hermterm draws on.
type hostTTY struct {
	in    *os.File
	out   *os.File
	state *term.State
}

func openTTY(in, out *os.File) (*hostTTY, error) {
	if !term.IsTerminal(int(in.Fd())) || !term.IsTerminal(int(out.Fd())) {
		return nil, errNotTerminal
	}
	return &hostTTY{in: in, out: out}, nil
}

// MakeRaw switches the input to raw mode; Restore undoes it.
func (t *hostTTY) MakeRaw() error {
	state, err := term.MakeRaw(int(t.in.Fd()))
	if err != nil {
		return err
	}
	t.state = state
	return nil
}

func (t *hostTTY) Restore() {
	if t.state == nil {
		return
	}
	_ = term.Restore(int(t.in.Fd()), t.state)
	t.state = nil
}

// Size reports the host terminal size in cells.
func (t *hostTTY) Size() (int, int, error) {
	return hostSize(t.out)
}
