package main

import "joy-journal/cmd"

func main() {
	cmd.Run()
}
