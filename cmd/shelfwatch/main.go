package main

import "shelfwatch/internal/cli"

func main() {
	cli.Execute()
}
