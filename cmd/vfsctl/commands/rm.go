package commands

import (
	"path"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file or empty directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	parent, name := path.Split(path.Clean(args[0]))
	if parent == "" {
		parent = "/"
	}
	return s.vfs.Unlink(parent, name)
}
