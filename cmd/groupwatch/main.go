package main

import "github.com/vietddude/groupwatch/internal/cli"

func main() {
	cli.Execute()
}
