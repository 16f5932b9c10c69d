package main

import "github.com/treestore/treestore/cli"

func main() {
	cli.Execute()
}
