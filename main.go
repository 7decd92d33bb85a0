// Package main is the entry point for the icarus service.
package main

import (
	"fmt"
	"os"

	"icarus/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
