package main

import "github.com/dgallion1/vastchain/internal/cli"

func main() {
	cli.Execute()
}
