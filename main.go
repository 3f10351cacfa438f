package main

import "Boombot/cmd"

func main() {
	cmd.Execute()
}
