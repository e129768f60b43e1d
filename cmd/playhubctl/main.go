package main

import "github.com/mcoot/playhub/internal/cli"

func main() {
	cli.Execute()
}
