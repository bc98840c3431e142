package main

import "github.com/SvelteTick/Impostr/internal/cli"

func main() {
	cli.Execute()
}
