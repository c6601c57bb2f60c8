package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	mem := blockdev.NewMemory(512, 8)
	payload := make([]byte, 512)
	copy(payload, []byte("ram disk block"))

	require.NoError(t, mem.WriteBlocks(5, 1, payload))
	buf := make([]byte, 512)
	require.NoError(t, mem.ReadBlocks(5, 1, buf))
	assert.Equal(t, payload, buf)
}

func TestMemoryStartsZeroFilled(t *testing.T) {
	mem := blockdev.NewMemory(512, 2)
	buf := make([]byte, 512)
	require.NoError(t, mem.ReadBlocks(0, 1, buf))
	assert.Equal(t, make([]byte, 512), buf)
}

func TestMemoryClosedRejectsIO(t *testing.T) {
	mem := blockdev.NewMemory(512, 2)
	require.NoError(t, mem.Close())

	buf := make([]byte, 512)
	assert.ErrorIs(t, mem.ReadBlocks(0, 1, buf), blockdev.ErrClosed)
	assert.ErrorIs(t, mem.WriteBlocks(0, 1, buf), blockdev.ErrClosed)
}
