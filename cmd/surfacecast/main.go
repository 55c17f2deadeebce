package main

import "github.com/surfacecast/surfacecast/cmd/surfacecast/commands"

func main() {
	commands.Execute()
}
