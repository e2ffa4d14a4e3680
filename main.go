package main

import "github.com/agentic-research/rethread/cmd"

func main() {
	cmd.Execute()
}
