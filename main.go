package main

import "github.com/dlnabridge/dlnabridge/cmd"

func main() {
	cmd.Execute()
}
