package main

// ============================================================================
// Cranium entry point
//
// 1. Recover from panics at the top level
// 2. Build and execute the CLI; all logic lives in internal/cli
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/opencranium/cranium/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
