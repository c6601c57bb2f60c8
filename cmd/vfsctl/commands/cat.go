package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/vfskit/pkg/vfs"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func runCat(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	n, err := s.vfs.Lookup(args[0], vfs.FlagFile)
	if err != nil {
		return err
	}
	defer s.vfs.Put(n)

	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	pos := uint64(0)
	for {
		got, err := s.vfs.Read(n, pos, buf)
		if got > 0 {
			if _, werr := os.Stdout.Write(buf[:got]); werr != nil {
				return werr
			}
			pos += uint64(got)
		}
		if err != nil {
			return err
		}
		if got == 0 {
			return nil
		}
	}
}
