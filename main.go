package main

import "github.com/unilearn/faceid/cmd"

func main() {
	cmd.Execute()
}
