// Package main is the entry point for the runnersync CLI.
package main

import (
	"fmt"
	"os"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	Version = version
	Commit = commit
	BuildTime = buildTime

	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
