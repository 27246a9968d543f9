// Package main is the entry point for the pausefilter daemon and tools.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/pausefilter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
