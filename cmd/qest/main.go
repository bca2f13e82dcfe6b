// Package main is the entry point for the qest CLI.
package main

import (
	"os"

	"github.com/perbu/qest/cmd/qest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
