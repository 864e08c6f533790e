package main

import (
	"os"

	"botlauncher/internal/commands"
)

func main() {
	os.Exit(commands.Execute())
}
