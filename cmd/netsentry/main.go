// Command netsentry is the network reconnaissance and vulnerability
// assessment service and its command-line client.
package main

import "github.com/anstrom/netsentry/cmd/cli"

// Set by ldflags, e.g. -X main.version=v1.2.0.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
