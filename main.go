package main

import "github.com/pedalworks/softstepd/internal/cli"

func main() {
	cli.Execute()
}
