// Package ui renders feed records for the terminal.
package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCommand = 252 // light gray
	colorMuted   = 245 // medium gray
	colorCreate = 114 // green
	colorUpdate = 179 // amber
	colorDelete = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	return paint(colorAccent, s)
}

// RenderCommand returns s in the command-name color.
func RenderCommand(s string) string {
	return paint(colorCommand, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	return paint(colorMuted, s)
}

// RenderOp colors an event operation by kind.
func RenderOp(op string) string {
	switch op {
	case "create":
		return paint(colorCreate, op)
	case "update":
		return paint(colorUpdate, op)
	case "delete":
		return paint(colorDelete, op)
	}
	return op
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// FormatRecord renders one feed record as a single line:
// id, time, op, type and the compact payload.
func FormatRecord(id, typ, op, at string, data []byte) string {
	if at == "" {
		at = "-"
	}
	return fmt.Sprintf("%s %s %s %s %s",
		RenderAccent(fmt.Sprintf("%6s", id)),
		RenderMuted(at),
		RenderOp(fmt.Sprintf("%-6s", op)),
		typ,
		data,
	)
}
