package main

import "github.com/civiclab/sopn/cmd/sopn/cmd"

func main() {
	cmd.Execute()
}
