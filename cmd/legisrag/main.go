package main

import "legisrag/internal/cli"

func main() {
	cli.Execute()
}
