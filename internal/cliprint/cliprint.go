// Package cliprint is cmd/gitswarm's terminal output layer: colored status
// lines for the common success/info/warning/error cases, and tabular
// listings for streams, tasks, councils, and the activity log. Grounded on
// dyluth-holt/internal/printer's fatih/color usage, generalised with
// olekukonko/tablewriter for gitswarm's list-shaped output (`stream list`,
// `task list`, `council proposals`, `log`) that printer's teacher never
// needed since holt has no tabular domain data to print.
package cliprint

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

func init() {
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	dim    = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s\n", msg)
	} else {
		green.Println(msg)
	}
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format+"\n", a...)
}

// Warning prints a warning message in yellow with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	yellow.Printf("⚠ %s\n", msg)
}

// Error prints a titled error with an explanation and optional remediation
// suggestions to stderr, and returns a plain error so cobra's own error
// path (SilenceErrors) stays quiet.
func Error(title, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	printSuggestions(suggestions)
	return fmt.Errorf("%s", title)
}

// ErrorWithContext is Error plus a set of key/value details — used for
// gwerrors.SwarmError.Details, so a rejected command shows exactly which
// field or resource id was at fault.
func ErrorWithContext(title, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	if len(context) > 0 {
		fmt.Fprintln(os.Stderr)
		for k, v := range context {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", k, v)
		}
	}
	printSuggestions(suggestions)
	return fmt.Errorf("%s", title)
}

func printSuggestions(suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr)
	if len(suggestions) == 1 {
		fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		return
	}
	fmt.Fprintln(os.Stderr, "Either:")
	for i, s := range suggestions {
		fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, s)
	}
}

// Step prints a cyan step header line prefixed with an arrow.
func Step(format string, a ...any) {
	cyan.Printf("→ %s\n", fmt.Sprintf(format, a...))
}

// Println and Printf print plain, uncolored output.
func Println(a ...any)            { fmt.Println(a...) }
func Printf(format string, a ...any) { fmt.Printf(format, a...) }

// Table renders headers/rows as a bordered table to stdout, the shared
// backing for every `gitswarm ... list` subcommand.
func Table(headers []string, rows [][]string) {
	t := tablewriter.NewWriter(os.Stdout)
	t.Header(headers)
	for _, row := range rows {
		t.Append(row)
	}
	t.Render()
}

// Dim returns muted supplementary text (ids, counts) formatted for use
// inline, e.g. inside a Table cell; it prints nothing itself.
func Dim(format string, a ...any) string {
	return dim.Sprintf(format, a...)
}
