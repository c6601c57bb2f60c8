// Package commands implements vfsctl, a single-process inspection tool
// that wires a block device, the FAT or tmpfs server, and the VFS
// dispatcher together and runs one namespace operation per invocation.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/fatfs"
	"github.com/marmos91/vfskit/pkg/tmpfs"
	"github.com/marmos91/vfskit/pkg/vfs"
)

var (
	backend string
	image   string
	wtcache bool
)

var rootCmd = &cobra.Command{
	Use:   "vfsctl",
	Short: "Inspect and drive a FAT or tmpfs volume through the VFS dispatcher",
	Long: `vfsctl mounts a single filesystem instance as the VFS root and runs one
namespace operation against it, printing the result. Each invocation is a
fresh process: there is no resident server, so state only persists to the
extent the backing device (--image) does.

Use --backend=tmpfs to exercise the in-memory reference server instead of
FAT; tmpfs ignores --image and starts empty on every invocation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "fat", "filesystem backend: fat or tmpfs")
	rootCmd.PersistentFlags().StringVar(&image, "image", "", "disk image path (fat backend only)")
	rootCmd.PersistentFlags().BoolVar(&wtcache, "wtcache", false, "mount with write-through caching (fat backend only)")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(statfsCmd)
}

// Execute runs vfsctl.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// session owns the mounted VFS and whatever device backs it, and is
// torn down by close() once the requested operation has run.
type session struct {
	vfs *vfs.VFS
	dev *blockdev.File
}

// open mounts the configured backend as the VFS root.
func open() (*session, error) {
	v := vfs.New(vfs.DefaultPLBSize)
	v.RegisterDriver("fat", fatfs.NewDriver(), false)
	v.RegisterDriver("tmpfs", tmpfs.NewDriver(), true)

	s := &session{vfs: v}
	switch backend {
	case "tmpfs":
		if err := v.Mount("/", "tmpfs", "tmpfs0", nil, ""); err != nil {
			return nil, err
		}
	case "fat":
		if image == "" {
			return nil, fmt.Errorf("--image is required for the fat backend")
		}
		dev, err := blockdev.OpenFile(image, 512)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", image, err)
		}
		opts := ""
		if wtcache {
			opts = "wtcache"
		}
		if err := v.Mount("/", "fat", image, dev, opts); err != nil {
			_ = dev.Close()
			return nil, err
		}
		s.dev = dev
	default:
		return nil, fmt.Errorf("unknown --backend %q, must be fat or tmpfs", backend)
	}
	return s, nil
}

// close unmounts the root filesystem and closes the backing device.
func (s *session) close() {
	if err := s.vfs.Unmount("/"); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: unmount: %v\n", err)
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "vfsctl: close device: %v\n", err)
		}
	}
}

func kindString(k vfs.Kind) string {
	switch k {
	case vfs.KindDirectory:
		return "directory"
	case vfs.KindFile:
		return "file"
	default:
		return "unknown"
	}
}
