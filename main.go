package main

import "github.com/knowtide/knowtide/cmd"

func main() {
	cmd.Execute()
}
