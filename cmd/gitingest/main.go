// Package main provides the entry point for the gitingest CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/gitingest/cmd/gitingest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
