package main

import "jobstream/cmd"

func main() {
	cmd.Run()
}
