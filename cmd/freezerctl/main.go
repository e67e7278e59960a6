package main

import (
	"os"

	"freezercore/cmd/freezerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
