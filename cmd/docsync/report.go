package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize/english"
	"github.com/openmined/docsync/internal/session"
	"github.com/openmined/docsync/internal/utils"
)

var (
	red        = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan       = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray       = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	errorStyle = red.Bold(true)
)

func printReport(w io.Writer, r *session.Report, asJSON bool) error {
	if asJSON {
		return utils.JSONEncode(w, r)
	}
	_, err := io.WriteString(w, renderReport(r))
	return err
}

func renderReport(r *session.Report) string {
	var b strings.Builder

	if r.Refused {
		fmt.Fprintf(&b, "%s %s\n", errorStyle.Render("refused:"), r.RefusalReason)
		return b.String()
	}

	if r.DryRun {
		fmt.Fprintf(&b, "%s %s\n", cyan.Render("dry run:"), english.Plural(len(r.Planned), "action", ""))
		for _, p := range r.Planned {
			fmt.Fprintf(&b, "  %-14s %s\n", cyan.Render(p.Kind.String()), p.Path)
		}
	}

	for _, p := range r.Conflicts {
		fmt.Fprintf(&b, "  %-14s %s\n", yellow.Render("conflict"), p)
	}
	for _, p := range r.SkippedUnauthorized {
		fmt.Fprintf(&b, "  %-14s %s\n", gray.Render("unauthorized"), p)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "  %-14s %s %s\n", red.Render("failed"), f.Path, gray.Render(f.Reason))
	}

	summary := fmt.Sprintf("%s, %s, %s, %s",
		english.Plural(len(r.Succeeded), "change", ""),
		english.Plural(len(r.Conflicts), "conflict", ""),
		english.Plural(len(r.SkippedUnauthorized), "skip", ""),
		english.Plural(len(r.Failed), "failure", ""),
	)
	style := green
	if !r.Clean() {
		style = yellow
	}
	fmt.Fprintf(&b, "%s %s\n", style.Render(summary), gray.Render("in "+r.Duration.Round(time.Millisecond).String()))

	return b.String()
}
