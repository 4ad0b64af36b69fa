// Command gitswarm is the local, single-agent-host CLI client described in
// spec.md §6.2: it drives a gitswarm-governed repository against an
// embedded SQLite store and the local git checkout, queuing outbound
// changes for eventual sync to a gitswarmd server.
package main

import (
	"os"

	"github.com/dyluth/gitswarm/cmd/gitswarm/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	os.Exit(commands.Execute())
}
