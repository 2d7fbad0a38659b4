package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

// statusLine is one labelled row of `sonactl status`.
type statusLine struct {
	Label  string `json:"label"`
	Kind   string `json:"status"`
	Detail string `json:"detail,omitempty"`
	kind   statusKind
}

func newStatusLine(label string, kind statusKind, detail string) statusLine {
	return statusLine{Label: label, Kind: strings.ToLower(statusKindLabel(kind)), Detail: detail, kind: kind}
}

func (l statusLine) render(colorize bool) string {
	return renderStatusLine(l.Label, l.kind, l.Detail, colorize)
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func writeSection(out io.Writer, title string, lines []statusLine, colorize bool) {
	for _, header := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, header)
	}
	for _, line := range lines {
		fmt.Fprintln(out, line.render(colorize))
	}
}

// worstKind returns the most severe kind across lines, treating info as ok.
func worstKind(sections ...[]statusLine) statusKind {
	worst := statusOK
	for _, lines := range sections {
		for _, line := range lines {
			if line.kind > worst {
				worst = line.kind
			}
		}
	}
	return worst
}

func verdict(kind statusKind) string {
	switch kind {
	case statusError:
		return "sona cannot be launched until the errors above are fixed"
	case statusWarn:
		return "usable, with warnings"
	default:
		return "ready to run"
	}
}

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
