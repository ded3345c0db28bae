// cmd is the techday command line: the HTTP server plus the operational
// subcommands (migrations, catalog seeding, admission control and the
// confirmation worker).
package main

import (
	"fmt"
	"os"
)

// Build information injected via ldflags at build time.
var version = "dev"

func main() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
