package main

import (
	"os"

	"github.com/marmos91/vfskit/cmd/mkfat/commands"
	"github.com/marmos91/vfskit/internal/logger"
)

func main() {
	_ = logger.Init(logger.Config{Level: "INFO", Format: "text", Output: "stderr"})
	os.Exit(commands.Execute())
}
