package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"prism/internal/preflight"
)

// statusKind is the verdict shown in front of a check or run line.
type statusKind int

const (
	statusInfo statusKind = iota
	statusPass
	statusWarn
	statusFail
)

const statusLabelWidth = 20

func (k statusKind) String() string {
	switch k {
	case statusPass:
		return "PASS"
	case statusWarn:
		return "WARN"
	case statusFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func (k statusKind) colors() text.Colors {
	switch k {
	case statusPass:
		return text.Colors{text.FgGreen}
	case statusWarn:
		return text.Colors{text.FgYellow}
	case statusFail:
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgCyan}
	}
}

// checkStatus grades a preflight result. Optional checks only warn because
// they never stop a run.
func checkStatus(r preflight.Result) statusKind {
	switch {
	case r.Passed:
		return statusPass
	case r.Optional:
		return statusWarn
	default:
		return statusFail
	}
}

// runStatus grades a finished run and names its outcome for the summary
// headline.
func runStatus(res runResult) (statusKind, string) {
	rep := res.report
	switch {
	case res.err != nil:
		return statusFail, "failed"
	case res.cancelled:
		return statusWarn, "cancelled"
	case rep.Dropped() > 0 || res.skipped > 0:
		return statusWarn, "finished with losses"
	default:
		return statusPass, "finished"
	}
}

// renderStatusLine formats "  <name>  <VERDICT>  <detail>", coloring only the
// verdict.
func renderStatusLine(name string, kind statusKind, detail string, colorize bool) string {
	verdict := fmt.Sprintf("%-4s", kind)
	if colorize {
		verdict = kind.colors().Sprint(verdict)
	}
	line := fmt.Sprintf("  %-*s %s", statusLabelWidth, name, verdict)
	if detail = strings.TrimSpace(detail); detail != "" {
		line += "  " + detail
	}
	return line
}

func renderHeading(title string, colorize bool) string {
	if colorize {
		return text.Bold.Sprint(title)
	}
	return title
}

func shouldColorize(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(w)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
