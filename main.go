package main

import "github.com/inove-ai/agentlock/cmd"

func main() {
	cmd.Execute()
}
