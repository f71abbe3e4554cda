package main

import "utxo-diff-alerts/internal/cli"

func main() {
	cli.Execute()
}
