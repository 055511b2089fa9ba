package main

import "reminderq/cmd"

func main() {
	cmd.Run()
}
