package main

import "github.com/convoy-dl/convoy/cmd"

func main() {
	cmd.Execute()
}
