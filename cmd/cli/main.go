// Package main is the entry point for the medbill CLI.
package main

import (
	"os"

	"medbill-verify/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
