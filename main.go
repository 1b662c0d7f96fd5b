package main

import (
	"os"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
