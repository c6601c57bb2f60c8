package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/vfskit/pkg/vfs"
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List a directory's entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	n, err := s.vfs.Lookup(args[0], vfs.FlagDirectory)
	if err != nil {
		return err
	}
	defer s.vfs.Put(n)
	if n.Kind() != vfs.KindDirectory {
		return vfs.NewPathError(vfs.ErrNotDirectory, args[0], "not a directory")
	}

	entries, err := s.vfs.ReadDir(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%-8s %s\n", kindString(e.Kind), e.Name)
	}
	return nil
}
