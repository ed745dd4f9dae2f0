package main

import "github.com/monocle-dev/relay/cmd/relay/cmd"

func main() {
	cmd.Execute()
}
