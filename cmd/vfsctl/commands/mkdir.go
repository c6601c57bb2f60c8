package commands

import (
	"path"

	"github.com/spf13/cobra"

	"github.com/marmos91/vfskit/pkg/vfs"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkdir,
}

func runMkdir(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	parent, name := path.Split(path.Clean(args[0]))
	if parent == "" {
		parent = "/"
	}
	n, err := s.vfs.Link(parent, name, vfs.KindDirectory)
	if err != nil {
		return err
	}
	return s.vfs.Put(n)
}
