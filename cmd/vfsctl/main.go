package main

import (
	"fmt"
	"os"

	"github.com/marmos91/vfskit/cmd/vfsctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		os.Exit(1)
	}
}
