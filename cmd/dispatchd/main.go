package main

import "github.com/marcus/dispatchd/cmd/dispatchd/commands"

func main() {
	commands.Execute()
}
