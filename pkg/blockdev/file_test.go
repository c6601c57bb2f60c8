package blockdev_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
)

func TestCreateFileSizesExactExtent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.CreateFile(path, 512, 100)
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, uint32(512), dev.BlockSize())
	assert.Equal(t, uint64(100), dev.NumBlocks())
}

func TestCreateFileThenOpenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	created, err := blockdev.CreateFile(path, 512, 16)
	require.NoError(t, err)

	payload := make([]byte, 512)
	copy(payload, []byte("sector zero"))
	require.NoError(t, created.WriteBlocks(0, 1, payload))
	require.NoError(t, created.Close())

	opened, err := blockdev.OpenFile(path, 512)
	require.NoError(t, err)
	defer opened.Close()

	assert.Equal(t, uint64(16), opened.NumBlocks())
	buf := make([]byte, 512)
	require.NoError(t, opened.ReadBlocks(0, 1, buf))
	assert.Equal(t, payload, buf)
}

func TestOpenFileMissingPathFails(t *testing.T) {
	_, err := blockdev.OpenFile(filepath.Join(t.TempDir(), "missing.img"), 512)
	assert.Error(t, err)
}

func TestFileReadWriteOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.CreateFile(path, 512, 4)
	require.NoError(t, err)
	defer dev.Close()

	buf := make([]byte, 512*2)
	err = dev.ReadBlocks(3, 2, buf)
	assert.ErrorIs(t, err, blockdev.ErrOutOfRange)

	err = dev.WriteBlocks(3, 2, buf)
	assert.ErrorIs(t, err, blockdev.ErrOutOfRange)
}

func TestFileClosedRejectsIO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.CreateFile(path, 512, 4)
	require.NoError(t, err)
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close()) // idempotent

	buf := make([]byte, 512)
	assert.ErrorIs(t, dev.ReadBlocks(0, 1, buf), blockdev.ErrClosed)
	assert.ErrorIs(t, dev.WriteBlocks(0, 1, buf), blockdev.ErrClosed)
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, blockdev.CheckRange(0, 0, 0))
	assert.NoError(t, blockdev.CheckRange(2, 3, 10))
	assert.Error(t, blockdev.CheckRange(8, 3, 10))
	assert.Error(t, blockdev.CheckRange(10, 1, 10))
}
