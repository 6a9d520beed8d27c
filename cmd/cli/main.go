// Package main is the entry point for the tablectl CLI binary.
package main

import (
	"os"

	cli "tableforge/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
