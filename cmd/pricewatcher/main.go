package main

import "pricewatcher/internal/cli"

func main() {
	cli.Execute()
}
