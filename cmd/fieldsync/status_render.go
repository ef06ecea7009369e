package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// tone classifies a displayed value by how much operator attention it
// deserves.
type tone int

const (
	toneNeutral tone = iota
	toneGood
	toneCaution
	toneBad
)

const (
	escReset  = "\x1b[0m"
	escRed    = "\x1b[31m"
	escGreen  = "\x1b[32m"
	escYellow = "\x1b[33m"
	escCyan   = "\x1b[36m"
)

// stateTone maps a queue item state onto a display tone. Review is not an
// error but still needs the operator, so it shares the caution color with
// partial uploads.
func stateTone(state string) tone {
	switch state {
	case "complete", "accepted":
		return toneGood
	case "failed":
		return toneBad
	case "partial", "review":
		return toneCaution
	default:
		return toneNeutral
	}
}

// connectionTone maps the reported connection onto a display tone.
// Cellular is usable but metered.
func connectionTone(connection string) tone {
	switch connection {
	case "wifi":
		return toneGood
	case "cellular":
		return toneCaution
	default:
		return toneBad
	}
}

func paint(value string, t tone, colorize bool) string {
	if !colorize {
		return value
	}
	switch t {
	case toneGood:
		return escGreen + value + escReset
	case toneCaution:
		return escYellow + value + escReset
	case toneBad:
		return escRed + value + escReset
	default:
		return value
	}
}

// detailLine formats an indented "Label: value" status line with the value
// painted by tone.
func detailLine(label, value string, t tone, colorize bool) string {
	return fmt.Sprintf("  %-12s %s", label+":", paint(value, t, colorize))
}

// sectionHeader formats a "== Title ==" heading.
func sectionHeader(title string, colorize bool) string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	if colorize {
		return escCyan + line + escReset
	}
	return line
}

// shouldColorize reports whether writer is an interactive terminal.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
