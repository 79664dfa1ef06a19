package main

import "github.com/layer-3/passage/cmd/passage/cmd"

func main() {
	cmd.Execute()
}
