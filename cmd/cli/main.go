// Package main is the entry point for the agentplane CLI.
// The CLI is the developer terminal tool for interacting with the agentplane API.
package main

import (
	"agentplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
