// Command vecseg manages a vector segment on disk.
package main

import (
	"os"

	"github.com/hupe1980/vecseg/cmd/vecseg/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
