package main

import (
	"fmt"
	"os"

	"leadgen-outreach-go/cmd/outreach/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
