//go:build !unix

package main

import (
	"os"

	"golang.org/x/term"
)

func hostSize(f *os.File) (int, int, error) {
	return term.GetSize(int(f.Fd()))
}

// notifyResize is a no-op where the platform has no window-change signal;
// the size is still read when a session is selected.
func notifyResize(chan<- os.Signal) (stop func()) {
	return func() {}
}
