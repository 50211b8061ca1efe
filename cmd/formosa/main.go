package main

import (
	"os"

	"github.com/twlin/formosa/cmd/formosa/commands"
)

// main is the entry point for the Formosa CLI
func main() {
	os.Exit(commands.Execute())
}
