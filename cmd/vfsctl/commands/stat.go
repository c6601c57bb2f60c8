package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Print a path's kind, size, and triplet",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func runStat(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.close()

	n, err := s.vfs.Lookup(args[0], 0)
	if err != nil {
		return err
	}
	defer s.vfs.Put(n)

	info, err := s.vfs.Stat(n)
	if err != nil {
		return err
	}
	tri := n.Triplet()
	fmt.Printf("kind:       %s\n", kindString(info.Kind))
	fmt.Printf("size:       %d\n", info.Size)
	fmt.Printf("fs_handle:  %s\n", tri.FSHandle)
	fmt.Printf("service_id: %s\n", tri.ServiceID)
	fmt.Printf("index:      %d\n", tri.Index)
	return nil
}
