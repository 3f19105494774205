// Command orchestrator runs the project bootstrap orchestrator: the HTTP
// API, the MCP tool server and a few offline helpers.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
