package main

import (
	"os"

	"keyward/cmd/keyward/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
