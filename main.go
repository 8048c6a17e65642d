// Package main is the entry point for the c2cdump diagnostic decoder.
package main

import (
	"fmt"
	"os"

	"github.com/cab2cab/c2cdump/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
