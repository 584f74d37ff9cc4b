package main

import "mmledger/internal/cli"

func main() {
	cli.Execute()
}
