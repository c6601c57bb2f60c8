package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/vfskit/pkg/vfs"
)

var writeOffset uint64

var writeCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Write stdin to a file, creating it if necessary",
	Args:  cobra.ExactArgs(1),
	RunE:  runWrite,
}

func init() {
	writeCmd.Flags().Uint64Var(&writeOffset, "offset", 0, "byte offset to start writing at")
}

func runWrite(cmd *cobra.Command, args []string) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	n, err := s.vfs.Lookup(args[0], vfs.FlagFile|vfs.FlagCreate)
	if err != nil {
		return err
	}
	defer s.vfs.Put(n)

	pos := writeOffset
	for len(payload) > 0 {
		got, err := s.vfs.Write(n, pos, payload)
		if err != nil {
			return err
		}
		if got == 0 {
			return fmt.Errorf("write made no progress at offset %d", pos)
		}
		pos += uint64(got)
		payload = payload[got:]
	}
	fmt.Printf("wrote %d bytes, size now %d\n", pos-writeOffset, n.Size())
	return nil
}
