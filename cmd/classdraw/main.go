package main

import "github.com/panyam/classdraw/cmd/classdraw/commands"

func main() {
	commands.Execute()
}
