// Package commands implements the mkfat command-line formatter.
package commands

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marmos91/vfskit/internal/logger"
	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/fatfs"
)

var (
	sizeSectors uint32
	typeFlag    string
	label       string
)

// usageError marks a failure that should exit 1 (bad flags/arguments) as
// opposed to a device or format failure, which exits 2.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

// rootCmd is mkfat itself: a single verb, no subcommands.
var rootCmd = &cobra.Command{
	Use:   "mkfat <device>",
	Short: "Format a block device or disk image with a FAT filesystem",
	Long: `mkfat writes a fresh FAT12, FAT16, or FAT32 filesystem to a block
device or disk image.

If --type is omitted, the FAT variant is chosen automatically from the
computed cluster count: <=4085 clusters selects FAT12, <=65525 selects
FAT16, otherwise FAT32.

If <device> does not already exist, mkfat creates it as a flat disk
image of --size 512-byte sectors (--size is required in that case).`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMkfat,
}

func init() {
	rootCmd.Flags().Uint32Var(&sizeSectors, "size", 0, "volume size in 512-byte sectors (default: device's existing capacity)")
	rootCmd.Flags().StringVar(&typeFlag, "type", "", "FAT variant: 12, 16, or 32 (default: auto-select)")
	rootCmd.Flags().StringVar(&label, "label", "", "volume label, up to 11 characters")
}

// Execute runs mkfat and returns a process exit code: 0 on success, 1 on
// a usage error, 2 on a device or format error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ue *usageError
		rootCmd.PrintErrf("mkfat: %v\n", err)
		if errors.As(err, &ue) {
			return 1
		}
		return 2
	}
	return 0
}

func runMkfat(cmd *cobra.Command, args []string) error {
	variant, err := parseVariant(typeFlag)
	if err != nil {
		return &usageError{err}
	}
	if len(label) > 11 {
		return &usageError{fmt.Errorf("label %q exceeds 11 characters", label)}
	}

	path := args[0]
	dev, err := openOrCreateDevice(path, sizeSectors)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Warn("mkfat: closing device", logger.Device(path), logger.Err(err))
		}
	}()

	serial := randomSerial()
	boot, err := fatfs.Format(dev, fatfs.FormatOptions{
		SizeSectors: sizeSectors,
		Variant:     variant,
		Label:       label,
		Serial:      serial,
	})
	if err != nil {
		return fmt.Errorf("formatting %s: %w", path, err)
	}

	logger.Info("formatted volume",
		logger.Device(path),
		logger.Variant(boot.Variant.String()),
		"total_sectors", boot.TotalSectors,
		"sectors_per_cluster", boot.SectorsPerCluster,
		"label", label,
		"serial", fmt.Sprintf("%08X", serial),
	)
	return nil
}

func parseVariant(s string) (fatfs.Variant, error) {
	switch s {
	case "":
		return 0, nil
	case "12":
		return fatfs.FAT12, nil
	case "16":
		return fatfs.FAT16, nil
	case "32":
		return fatfs.FAT32, nil
	default:
		return 0, fmt.Errorf("invalid --type %q, must be 12, 16, or 32", s)
	}
}

// openOrCreateDevice opens path as an existing block device or, if it
// does not exist, creates it as a flat disk image of size sectors.
func openOrCreateDevice(path string, size uint32) (*blockdev.File, error) {
	const sectorSize = 512

	if _, err := os.Stat(path); err == nil {
		return blockdev.OpenFile(path, sectorSize)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if size == 0 {
		return nil, &usageError{fmt.Errorf("%s does not exist and --size was not given", path)}
	}
	return blockdev.CreateFile(path, sectorSize, uint64(size))
}

// randomSerial derives a 32-bit volume serial from a fresh UUID rather
// than math/rand, matching how the rest of this tree sources identifiers.
func randomSerial() uint32 {
	id := uuid.New()
	return binary.LittleEndian.Uint32(id[:4])
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}
