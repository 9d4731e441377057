package main

import "github.com/vizlink/vizlink/cmd/vizlink-peer/cmd"

func main() {
	cmd.Execute()
}
