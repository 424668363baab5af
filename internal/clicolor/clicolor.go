// Package clicolor provides the small colorized-status-line helpers
// shared by all three CLIs.
package clicolor

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/colorstring"
	"golang.org/x/term"
)

// IsInteractive reports whether f is an interactive terminal, used to
// gate the downloader's progress bar so piped or redirected runs get plain
// progress lines. Success, Warn and Fail colorize regardless of it.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Success prints a green status line to w.
func Success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, colorstring.Color("[green]"+fmt.Sprintf(format, args...)))
}

// Warn prints a yellow status line to w.
func Warn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, colorstring.Color("[yellow]"+fmt.Sprintf(format, args...)))
}

// Fail prints a red status line to w.
func Fail(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, colorstring.Color("[red]"+fmt.Sprintf(format, args...)))
}
