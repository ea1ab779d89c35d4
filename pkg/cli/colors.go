/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package cli provides shared terminal output for the flyedge command-line tools.

COLORS:
=======
ANSI escape codes for terminal text formatting:
- Reset, Bold, Dim
- Foreground: Red, Green, Yellow, Blue, Magenta, Cyan

ICONS:
======
- IconSuccess (✓), IconError (✗), IconWarning (⚠)
- IconInfo (ℹ), IconArrow (→), IconDot (●)

USAGE:
======

	cli.Success("published to %s", topic)
	cli.ErrorWithHint("connection refused", "is flyedge running on :1883?")

	p := cli.NewPrinter(os.Stdout, os.Stderr)
	p.Table([]string{"NODE", "ADDRESS"}, rows)

Colors are disabled when the output is not a terminal or NO_COLOR is set.
*/
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for terminal output.
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
)

// Icons for CLI output
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
	IconDot     = "●"
)

// Printer writes decorated messages to an output and an error stream.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	color  bool
}

// NewPrinter returns a printer for out and errOut. Colors are enabled only
// when out is a terminal and NO_COLOR is unset.
func NewPrinter(out, errOut io.Writer) *Printer {
	return &Printer{out: out, errOut: errOut, color: colorAllowed(out)}
}

func colorAllowed(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var std = NewPrinter(os.Stdout, os.Stderr)

// SetColorsEnabled enables or disables color output for the package-level
// helpers.
func SetColorsEnabled(enabled bool) {
	std.color = enabled
}

// SetColors enables or disables color output.
func (p *Printer) SetColors(enabled bool) {
	p.color = enabled
}

func (p *Printer) colorize(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + Reset
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.colorize(Green, IconSuccess+" "+fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, p.colorize(Red, IconError+" "+fmt.Sprintf(format, args...)))
}

// ErrorWithHint prints an error message with a helpful hint.
func (p *Printer) ErrorWithHint(message string, hint string) {
	fmt.Fprintln(p.errOut, p.colorize(Red, IconError+" "+message))
	if hint != "" {
		fmt.Fprintln(p.errOut, p.colorize(Dim, "  "+IconArrow+" Hint: "+hint))
	}
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, p.colorize(Yellow, IconWarning+" "+fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.colorize(Cyan, IconInfo+" "+fmt.Sprintf(format, args...)))
}

// Header prints a header/title.
func (p *Printer) Header(text string) {
	fmt.Fprintln(p.out, p.colorize(Bold+Cyan, text))
}

// KeyValue prints a key-value pair.
func (p *Printer) KeyValue(key string, value interface{}) {
	fmt.Fprintf(p.out, "  %s: %v\n", p.colorize(Dim, key), value)
}

// Message prints one received application message as "topic payload",
// marking retained messages.
func (p *Printer) Message(topic string, payload []byte, retained bool) {
	prefix := p.colorize(Cyan, topic)
	if retained {
		prefix += " " + p.colorize(Dim, "(retained)")
	}
	fmt.Fprintf(p.out, "%s %s\n", prefix, payload)
}

// Table prints rows under a bold header with aligned columns.
func (p *Printer) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, p.colorize(Bold, strings.Join(header, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// Example prints an example command.
func (p *Printer) Example(description, command string) {
	fmt.Fprintf(p.out, "  %s\n", p.colorize(Dim, "# "+description))
	fmt.Fprintf(p.out, "  %s\n", p.colorize(Cyan, command))
}

// Success prints a success message to stdout.
func Success(format string, args ...interface{}) { std.Success(format, args...) }

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) { std.Error(format, args...) }

// ErrorWithHint prints an error message with a hint to stderr.
func ErrorWithHint(message, hint string) { std.ErrorWithHint(message, hint) }

// Warning prints a warning message to stderr.
func Warning(format string, args ...interface{}) { std.Warning(format, args...) }

// Info prints an info message to stdout.
func Info(format string, args ...interface{}) { std.Info(format, args...) }

// Header prints a header to stdout.
func Header(text string) { std.Header(text) }

// KeyValue prints a key-value pair to stdout.
func KeyValue(key string, value interface{}) { std.KeyValue(key, value) }

// Example prints an example command to stdout.
func Example(description, command string) { std.Example(description, command) }

// Table prints an aligned table to stdout.
func Table(header []string, rows [][]string) { std.Table(header, rows) }
