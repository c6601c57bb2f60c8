package vbd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
)

const sectorSize = 512

func buildMBR(t *testing.T, entries ...MBREntry) []byte {
	t.Helper()
	sector := make([]byte, sectorSize)
	for i, e := range entries {
		off := mbrPartTableOffset + i*mbrEntrySize
		if e.Bootable {
			sector[off] = 0x80
		}
		sector[off+4] = e.Type
		putLE32(sector[off+8:off+12], e.FirstLBA)
		putLE32(sector[off+12:off+16], e.NumLBA)
	}
	WriteMBRSignature(sector)
	return sector
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func newDiskWithMBR(t *testing.T, sector []byte, totalSectors uint64) *Disk {
	t.Helper()
	mem := blockdev.NewMemory(sectorSize, totalSectors)
	require.NoError(t, mem.WriteBlocks(0, 1, sector))
	return OpenDisk("ram0", mem)
}

func TestProbeDiscoversPrimaryPartitions(t *testing.T) {
	sector := buildMBR(t,
		MBREntry{Type: 0x06, FirstLBA: 2048, NumLBA: 4096},
		MBREntry{Type: 0x0B, FirstLBA: 6144, NumLBA: 8192},
	)
	disk := newDiskWithMBR(t, sector, 20000)
	require.NoError(t, disk.Probe())

	parts := disk.Partitions()
	require.Len(t, parts, 2)
	assert.Equal(t, "ram0p1", parts[0].Name)
	assert.Equal(t, uint64(2048), parts[0].FirstLBA)
	assert.Equal(t, "ram0p2", parts[1].Name)
	assert.Equal(t, uint64(6144), parts[1].FirstLBA)
}

func TestUnpartitionedDiskHasNoPartitions(t *testing.T) {
	mem := blockdev.NewMemory(sectorSize, 1000)
	disk := OpenDisk("ram1", mem)
	require.NoError(t, disk.Probe())
	assert.Empty(t, disk.Partitions())
}

func TestPartitionProxyTranslatesAddresses(t *testing.T) {
	sector := buildMBR(t, MBREntry{Type: 0x06, FirstLBA: 100, NumLBA: 10})
	disk := newDiskWithMBR(t, sector, 1000)
	require.NoError(t, disk.Probe())

	p := disk.Partitions()[0]
	proxy := p.Proxy()
	assert.EqualValues(t, 10, proxy.NumBlocks())

	payload := make([]byte, sectorSize)
	copy(payload, []byte("partition-data"))
	require.NoError(t, proxy.WriteBlocks(0, 1, payload))

	raw := make([]byte, sectorSize)
	require.NoError(t, disk.Device().ReadDirect(100, 1, raw))
	assert.Equal(t, "partition-data", string(raw[:14]))
}

func TestPartitionProxyRejectsOutOfRange(t *testing.T) {
	sector := buildMBR(t, MBREntry{Type: 0x06, FirstLBA: 100, NumLBA: 10})
	disk := newDiskWithMBR(t, sector, 1000)
	require.NoError(t, disk.Probe())

	proxy := disk.Partitions()[0].Proxy()
	buf := make([]byte, sectorSize*5)
	err := proxy.ReadBlocks(8, 5, buf)
	assert.Error(t, err)
}

func TestCreateAndDeletePartitionRenumbers(t *testing.T) {
	mem := blockdev.NewMemory(sectorSize, 20000)
	disk := OpenDisk("ram2", mem)
	require.NoError(t, disk.Probe())

	v := New(NewMemoryRegistrar())
	require.NoError(t, v.InsertDisk(disk))

	p1, err := v.CreatePartition("ram2", 2048, 4096)
	require.NoError(t, err)
	assert.Equal(t, "ram2p1", p1.Name)

	p2, err := v.CreatePartition("ram2", 8192, 4096)
	require.NoError(t, err)
	assert.Equal(t, "ram2p2", p2.Name)

	require.NoError(t, v.DeletePartition("ram2", "ram2p1"))
	remaining := disk.Partitions()
	require.Len(t, remaining, 1)
	assert.Equal(t, "ram2p1", remaining[0].Name) // p2 renumbered down
	assert.Equal(t, p2, remaining[0])
}

func TestDeleteBusyPartitionFails(t *testing.T) {
	mem := blockdev.NewMemory(sectorSize, 20000)
	disk := OpenDisk("ram3", mem)
	require.NoError(t, disk.Probe())
	v := New(NewMemoryRegistrar())
	require.NoError(t, v.InsertDisk(disk))

	p, err := v.CreatePartition("ram3", 2048, 4096)
	require.NoError(t, err)
	p.Ref()
	defer p.Unref()

	err = v.DeletePartition("ram3", p.Name)
	require.Error(t, err)
}
