package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"clearskin/internal/records"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label string
	ansi  string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const (
	ansiReset        = "\x1b[0m"
	statusLabelWidth = 20
	statusIndent     = "  "
)

// statusPrinter writes "label: [KIND] message" lines to a terminal or a
// plain stream. Colour is only used on terminals.
type statusPrinter struct {
	out      io.Writer
	colorize bool
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, colorize: shouldColorize(out)}
}

func (p *statusPrinter) section(title string) {
	header := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	p.println(statusInfo, header)
	p.println(statusInfo, strings.Repeat("-", len(header)))
}

func (p *statusPrinter) line(label string, kind statusKind, message string) {
	p.println(kind, formatStatusLine(label, kind, message))
}

func (p *statusPrinter) info(label, message string) {
	p.line(label, statusInfo, message)
}

// text writes an uncoloured indented line under the current section.
func (p *statusPrinter) text(depth int, format string, args ...any) {
	fmt.Fprintf(p.out, strings.Repeat(statusIndent, depth)+format+"\n", args...)
}

func (p *statusPrinter) println(kind statusKind, s string) {
	if p.colorize {
		s = statusStyles[kind].ansi + s + ansiReset
	}
	fmt.Fprintln(p.out, s)
}

func formatStatusLine(label string, kind statusKind, message string) string {
	badge := "[" + statusStyles[kind].label + "]"
	if message != "" {
		badge += " " + message
	}
	return fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", badge)
}

// jobStatusKind maps a record's analysis status to a line colour. A pending
// record is a warning because it is either still running or was abandoned.
func jobStatusKind(status string) statusKind {
	switch records.JobStatus(status) {
	case records.StatusCompleted:
		return statusOK
	case records.StatusError:
		return statusError
	case records.StatusPending:
		return statusWarn
	default:
		return statusInfo
	}
}

func checkKind(passed bool) statusKind {
	if passed {
		return statusOK
	}
	return statusError
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
