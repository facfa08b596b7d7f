package main

import "docindex/cmd"

func main() {
	cmd.Execute()
}
