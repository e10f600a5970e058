package main

import "cortex.dev/cortex/cmd/cortex/cmd"

func main() {
	cmd.Execute()
}
