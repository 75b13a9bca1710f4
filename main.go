// Package main is the entry point for the OBuoy web server.
package main

import (
	"fmt"
	"os"

	"obuoy/cmd"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cmd.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
