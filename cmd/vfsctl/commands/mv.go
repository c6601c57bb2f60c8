package commands

import (
	"github.com/spf13/cobra"
)

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Rename or move a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runMv,
}

func runMv(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	return s.vfs.Rename(args[0], args[1])
}
