package main

import "github.com/bryanchriswhite/FrameFilter/cmd/framefilter/commands"

func main() {
	commands.Execute()
}
