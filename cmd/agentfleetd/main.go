// Command agentfleetd is the orchestration engine's single binary: a Cobra
// command tree (internal/cli) wired directly to the in-process engine
// (internal/engine), since spec.md §1 scopes HTTP/WebSocket transport out of
// this implementation. Grounded on the teacher's cmd/controller/main.go
// entrypoint shape (log.SetFlags, a single Run/Execute call, os.Exit(1) on
// error) adapted from a one-shot controller process to a Cobra root.
package main

import (
	"fmt"
	"os"

	"github.com/andywolf/agentfleet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
