package main

import "netops-flow/cmd"

func main() {
	cmd.Execute()
}
