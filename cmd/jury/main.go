// Package main is the entry point for the jury CLI.
package main

import (
	"os"

	"github.com/craftclass/jury/internal/cli"
)

// Stamped at build time with -ldflags "-X main.version=...".
//
//nolint:gochecknoglobals // build metadata
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	err := cli.Execute(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	os.Exit(cli.ExitCode(err))
}
