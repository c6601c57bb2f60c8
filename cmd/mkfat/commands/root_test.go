package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/fatfs"
)

func TestParseVariant(t *testing.T) {
	v, err := parseVariant("")
	require.NoError(t, err)
	assert.Equal(t, fatfs.Variant(0), v)

	v, err = parseVariant("12")
	require.NoError(t, err)
	assert.Equal(t, fatfs.FAT12, v)

	v, err = parseVariant("16")
	require.NoError(t, err)
	assert.Equal(t, fatfs.FAT16, v)

	v, err = parseVariant("32")
	require.NoError(t, err)
	assert.Equal(t, fatfs.FAT32, v)

	_, err = parseVariant("64")
	require.Error(t, err)
}

func TestOpenOrCreateDeviceCreatesMissingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	dev, err := openOrCreateDevice(path, 4096)
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, uint64(4096), dev.NumBlocks())
}

func TestOpenOrCreateDeviceRequiresSizeForMissingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	_, err := openOrCreateDevice(path, 0)
	require.Error(t, err)
	var ue *usageError
	require.ErrorAs(t, err, &ue)
}

func TestOpenOrCreateDeviceOpensExistingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	created, err := blockdev.CreateFile(path, 512, 4096)
	require.NoError(t, err)
	require.NoError(t, created.Close())

	dev, err := openOrCreateDevice(path, 0)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, uint64(4096), dev.NumBlocks())
}

// Running the root command end to end formats a fresh disk image and
// leaves a mountable FAT16 volume behind, auto-selected from the
// cluster count implied by --size.
func TestRunMkfatFormatsNewImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--size", "20480", "--label", "TESTVOL", path})
	require.NoError(t, cmd.Execute())

	dev, err := blockdev.OpenFile(path, 512)
	require.NoError(t, err)
	defer dev.Close()

	v, err := fatfs.Mount(dev, false)
	require.NoError(t, err)
	defer v.Unmount()

	assert.Equal(t, fatfs.FAT16, v.Boot().Variant)
	root, err := v.Root()
	require.NoError(t, err)
	defer v.Put(root)
	assert.Equal(t, fatfs.KindDirectory, root.Kind())
}

func TestRunMkfatRejectsLongLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--size", "8192", "--label", "WAY TOO LONG LABEL", path})
	err := cmd.Execute()
	require.Error(t, err)
	var ue *usageError
	require.ErrorAs(t, err, &ue)
}

func TestRunMkfatRejectsInvalidType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--size", "8192", "--type", "64", path})
	err := cmd.Execute()
	require.Error(t, err)
	var ue *usageError
	require.ErrorAs(t, err, &ue)
}
