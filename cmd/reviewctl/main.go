package main

import "github.com/smartcode/reviewctl/internal/cli"

func main() {
	cli.Execute()
}
