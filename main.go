package main

import "github.com/agentic-research/indu/cmd"

func main() {
	cmd.Execute()
}
