package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
)

// printer writes CLI output, colouring it when the stream is a terminal.
type printer struct {
	color    bool
	errColor bool
}

func newPrinter(allow bool) *printer {
	allow = allow && os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	return &printer{
		color:    allow && isTerminal(os.Stdout),
		errColor: allow && isTerminal(os.Stderr),
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func paint(on bool, code, s string) string {
	if !on {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) bold(s string) string  { return paint(p.color, ansiBold, s) }
func (p *printer) dim(s string) string   { return paint(p.color, ansiDim, s) }
func (p *printer) green(s string) string { return paint(p.color, ansiGreen, s) }

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}

func (p *printer) errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", paint(p.errColor, ansiRed+ansiBold, "Error:"), fmt.Sprintf(format, args...))
}
