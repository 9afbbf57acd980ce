package main

import cmd "github.com/pdai-labs/pdai/cmd/pdai"

func main() {
	cmd.Execute()
}
