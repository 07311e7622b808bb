package main

import "arcademerge/cli"

func main() {
	cli.Execute()
}
