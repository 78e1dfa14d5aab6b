// File: internal/cli/version.go
package cli

// Version is the application version.
// This value is intended to be set at build time using ldflags.
// Example: go build -ldflags "-X github.com/tourforge/anchor/internal/cli.Version=1.0.0"
var Version = "1.0"
