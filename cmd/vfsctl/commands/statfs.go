package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statfsCmd = &cobra.Command{
	Use:   "statfs",
	Short: "Print volume-wide occupancy for the mounted root",
	Args:  cobra.NoArgs,
	RunE:  runStatfs,
}

func runStatfs(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	root, err := s.vfs.Lookup("/", 0)
	if err != nil {
		return err
	}
	defer s.vfs.Put(root)

	st, err := s.vfs.Statfs(root)
	if err != nil {
		return err
	}
	fmt.Printf("block_size:  %d\n", st.BlockSize)
	fmt.Printf("blocks:      %d\n", st.Blocks)
	fmt.Printf("free_blocks: %d\n", st.FreeBlocks)
	return nil
}
