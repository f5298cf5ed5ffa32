package main

import "github.com/rotblauer/trackd/cmd"

func main() {
	cmd.Execute()
}
