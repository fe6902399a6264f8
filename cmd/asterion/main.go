package main

import (
	"os"

	"github.com/brianhks/asterion/cmd/asterion/commands"
)

func main() {
	os.Exit(commands.Execute())
}
