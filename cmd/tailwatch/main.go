package main

import (
	"os"

	"github.com/moolen/tailwatch/cmd/tailwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
