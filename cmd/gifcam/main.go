package main

import "github.com/awalling/gifcam/cmd/gifcam/commands"

func main() {
	commands.Execute()
}
