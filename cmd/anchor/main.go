// File: cmd/anchor/main.go
package main

import (
	"github.com/tourforge/anchor/internal/cli"
)

// main is the entry point for the anchor CLI.
func main() {
	// Execute the root command defined in the cli package. This handles all
	// command-line parsing, configuration, and execution.
	cli.Execute()
}
