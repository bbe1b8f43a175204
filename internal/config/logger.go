package config

import (
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// NewLogger returns a *log.Logger prefixed with prefix. When stderr is a
// terminal, WARN/ERROR lines are colored.
func NewLogger(prefix string) *log.Logger {
	return log.New(&colorWriter{tty: isatty.IsTerminal(os.Stderr.Fd())}, prefix+" ", log.LstdFlags)
}

type colorWriter struct {
	tty bool
}

const (
	colorReset  = "\x1b[0m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
)

func (w *colorWriter) Write(p []byte) (int, error) {
	if !w.tty {
		return os.Stderr.Write(p)
	}
	color := colorForLine(p)
	if color == "" {
		return os.Stderr.Write(p)
	}
	n, err := os.Stderr.Write([]byte(color))
	if err != nil {
		return n, err
	}
	written, err := os.Stderr.Write(p)
	if err != nil {
		return written, err
	}
	if _, err := os.Stderr.Write([]byte(colorReset)); err != nil {
		return written, err
	}
	return len(p), nil
}

func colorForLine(p []byte) string {
	s := string(p)
	if strings.Contains(s, "ERROR") {
		return colorRed
	}
	if strings.Contains(s, "WARN") {
		return colorYellow
	}
	return ""
}
