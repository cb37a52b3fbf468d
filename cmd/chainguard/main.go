package main

import "github.com/vietddude/chainguard/internal/cli"

func main() {
	cli.Execute()
}
