// Package commands implements the gitswarm CLI (spec.md §6.2): a
// single-agent-host client that drives a gitswarm-governed repository
// against an embedded SQLite store and the local git checkout.
//
// Grounded on dyluth-sett/cmd/sett/commands/root.go's package-level
// flag-var + RunE + func init() { ...; rootCmd.AddCommand(xCmd) } shape.
// Execute returns a process exit code instead of an error so main.go can
// map it straight onto os.Exit per spec.md §6.2's 0/1/2/3/4 scheme.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var (
	version string
	commit  string
	date    string
)

var rootCmd = &cobra.Command{
	Use:   "gitswarm",
	Short: "gitswarm - governance and coordination for autonomous agents on git",
	Long: `gitswarm coordinates multiple autonomous agents collaborating on a single
git repository: access control, consensus on merges, a stream-based
workspace model, a task market, and council governance.

This client drives a repository's local .gitswarm state — an embedded
SQLite store alongside the git checkout — and queues outbound changes for
eventual sync to a gitswarmd server.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPathFlag, "repo", ".", "path to the git repository root")
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// Exit codes per spec.md §6.2.
const (
	exitSuccess  = 0
	exitGeneral  = 1
	exitUsage    = 2
	exitNotFound = 3
	exitConflict = 4
)

// Execute runs the root command and maps the returned error, if any, to a
// process exit code. This is called once by main.main().
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		printCommandError(err)
	}
	return exitCodeFor(err)
}

// printCommandError renders a failed command's error to stderr. A
// *gwerrors.SwarmError prints its details; anything else (cobra usage
// errors, flag parsing) prints as-is.
func printCommandError(err error) {
	se := gwerrors.As(err)
	if se == nil {
		cliprint.Error(err.Error(), "", nil)
		return
	}
	details := make(map[string]string, len(se.Details))
	for k, v := range se.Details {
		details[k] = fmt.Sprintf("%v", v)
	}
	cliprint.ErrorWithContext(string(se.Code), se.Message, details, nil)
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	se := gwerrors.As(err)
	if se == nil {
		return exitGeneral
	}
	switch se.Code {
	case gwerrors.CodeValidation:
		return exitUsage
	case gwerrors.CodeNotFound:
		return exitNotFound
	case gwerrors.CodeConflict, gwerrors.CodeConsensus:
		return exitConflict
	default:
		return exitGeneral
	}
}
