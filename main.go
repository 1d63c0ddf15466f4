package main

import "github.com/anitier/anitier/cmd"

func main() {
	cmd.Execute()
}
