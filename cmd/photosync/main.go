package main

import (
	"fmt"
	"os"

	"github.com/photosync-io/photosync/cmd/photosync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
