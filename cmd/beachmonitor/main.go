// Package main provides the beachmonitor command: the dashboard server and
// terminal tools for the Spanish beach monitoring backend.
package main

import (
	"context"
	"os"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "beach-monitor"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
