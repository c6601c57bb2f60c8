package fatfs

import (
	"encoding/binary"
	"strings"

	"github.com/marmos91/vfskit/internal/logger"
	"github.com/marmos91/vfskit/pkg/blockdev"
)

// FormatOptions configures a fresh volume. Variant zero means
// auto-select from the computed cluster count, mirroring mkfat's
// default behaviour.
type FormatOptions struct {
	// SizeSectors is the volume size; zero uses the device's full
	// capacity.
	SizeSectors uint32
	Variant     Variant
	Label       string
	Serial      uint32
}

const (
	defaultFATCount     = 2
	defaultRootEntryMax = 512 // FAT12/16 only
)

// clusterSizeTable mirrors the classic size-to-sectors-per-cluster
// lookup real FAT formatters use, keyed by an upper bound on total
// sectors (512-byte units).
var clusterSizeTable = []struct {
	maxSectors uint32
	spc        uint8
}{
	{8400, 1},
	{32680, 2},
	{262144, 4},
	{524288, 8},
	{1048576, 16},
	{2097152, 32},
	{0xFFFFFFFF, 64},
}

func sectorsPerClusterFor(totalSectors uint32) uint8 {
	for _, row := range clusterSizeTable {
		if totalSectors <= row.maxSectors {
			return row.spc
		}
	}
	return 64
}

// Format writes a fresh boot sector, FAT copies, and root directory to
// dev, implementing mkfat's on-disk layout. It returns the resulting
// boot parameters.
func Format(dev blockdev.Device, opts FormatOptions) (*BootParams, error) {
	bytesPerSector := uint16(dev.BlockSize())
	if bytesPerSector == 0 {
		bytesPerSector = 512
	}
	total := opts.SizeSectors
	if total == 0 {
		total = uint32(dev.NumBlocks())
	}
	if total == 0 {
		return nil, newError(ErrBadArgument, "device has no capacity")
	}

	spc := sectorsPerClusterFor(total)
	b := &BootParams{
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: spc,
		FATCount:          defaultFATCount,
		TotalSectors:      total,
		MediaDescriptor:   0xF8,
		VolumeSerial:      opts.Serial,
	}
	copy(b.VolumeLabel[:], sanitizeLabel(opts.Label))

	wantVariant := opts.Variant

	layoutFor := func(v Variant) {
		b.Variant = v
		if v == FAT32 {
			b.ReservedSectors = 32
			b.RootEntryMax = 0
			b.FSInfoSector = 1
			b.BackupBootSec = 6
		} else {
			b.ReservedSectors = 1
			b.RootEntryMax = defaultRootEntryMax
		}
		b.SectorsPerFAT = estimateSectorsPerFAT(b)
	}

	// First pass: guess FAT16's shape (a reasonable stand-in for
	// FAT12/16) when auto-selecting, or the requested variant's actual
	// shape when one was given.
	guess := wantVariant
	if guess == 0 {
		guess = FAT16
	}
	layoutFor(guess)
	clusterCount := b.ClusterCount()

	if wantVariant == 0 {
		selected := SelectVariant(clusterCount)
		if selected != guess {
			layoutFor(selected)
			clusterCount = b.ClusterCount()
		}
	}

	switch b.Variant {
	case FAT12:
		if clusterCount > 4085 {
			return nil, newError(ErrBadArgument, "volume too large for FAT12 (%d clusters)", clusterCount)
		}
	case FAT16:
		if clusterCount <= 4085 || clusterCount > 65525 {
			return nil, newError(ErrBadArgument, "volume size does not fit FAT16 (%d clusters)", clusterCount)
		}
	case FAT32:
		if clusterCount <= 65525 {
			return nil, newError(ErrBadArgument, "volume too small for FAT32 (%d clusters)", clusterCount)
		}
		b.RootCluster = 2
	}

	if err := writeBootSector(dev, b); err != nil {
		return nil, err
	}
	if err := writeFATCopies(dev, b); err != nil {
		return nil, err
	}
	if err := zeroRootDirectory(dev, b); err != nil {
		return nil, err
	}
	logger.Info("fatfs: formatted volume", logger.Operation("FORMAT"), logger.Variant(b.Variant.String()), logger.ClusterCount(int(b.ClusterCount())))
	return b, nil
}

// estimateSectorsPerFAT sizes the FAT copies to cover every cluster a
// volume of b.TotalSectors could hold, rounding up.
func estimateSectorsPerFAT(b *BootParams) uint32 {
	entryBits := 16
	if b.Variant == FAT32 {
		entryBits = 32
	} else if b.Variant == FAT12 {
		entryBits = 12
	}
	// Without knowing SectorsPerFAT yet we don't know FirstDataSector, so
	// approximate data sectors as total minus the non-FAT fixed areas and
	// solve directly; this slightly overestimates cluster count on the
	// first pass, which only makes the FAT copies marginally larger than
	// strictly necessary.
	fixed := uint32(b.ReservedSectors) + b.RootDirSectors()
	if b.TotalSectors <= fixed {
		return 1
	}
	approxClusters := (b.TotalSectors - fixed) / uint32(b.SectorsPerCluster)
	fatBytes := (uint64(approxClusters) + 2) * uint64(entryBits) / 8
	sectors := uint32((fatBytes + uint64(b.BytesPerSector) - 1) / uint64(b.BytesPerSector))
	if sectors == 0 {
		sectors = 1
	}
	return sectors
}

func sanitizeLabel(label string) []byte {
	out := make([]byte, 11)
	for i := range out {
		out[i] = ' '
	}
	label = strings.ToUpper(label)
	for i := 0; i < len(label) && i < 11; i++ {
		c := label[i]
		if c < 0x20 || c > 0x7E {
			c = '_'
		}
		out[i] = c
	}
	return out
}

func writeBootSector(dev blockdev.Device, b *BootParams) error {
	sector := make([]byte, b.BytesPerSector)
	sector[0], sector[1], sector[2] = 0xEB, 0x3C, 0x90
	copy(sector[3:11], "VFSKIT  ")
	binary.LittleEndian.PutUint16(sector[11:13], b.BytesPerSector)
	sector[13] = b.SectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:16], b.ReservedSectors)
	sector[16] = b.FATCount
	binary.LittleEndian.PutUint16(sector[17:19], b.RootEntryMax)
	sector[21] = b.MediaDescriptor
	binary.LittleEndian.PutUint32(sector[28:32], b.HiddenSectors)

	if b.TotalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(sector[19:21], uint16(b.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(sector[32:36], b.TotalSectors)
	}

	var serialOff, labelOff int
	if b.Variant == FAT32 {
		binary.LittleEndian.PutUint32(sector[36:40], b.SectorsPerFAT)
		binary.LittleEndian.PutUint32(sector[44:48], b.RootCluster)
		binary.LittleEndian.PutUint16(sector[48:50], b.FSInfoSector)
		binary.LittleEndian.PutUint16(sector[50:52], b.BackupBootSec)
		serialOff, labelOff = 67, 71
	} else {
		binary.LittleEndian.PutUint16(sector[22:24], uint16(b.SectorsPerFAT))
		serialOff, labelOff = 39, 43
	}
	binary.LittleEndian.PutUint32(sector[serialOff:serialOff+4], b.VolumeSerial)
	copy(sector[labelOff:labelOff+11], b.VolumeLabel[:])

	sector[510], sector[511] = 0x55, 0xAA
	return dev.WriteBlocks(0, 1, sector)
}

func writeFATCopies(dev blockdev.Device, b *BootParams) error {
	fatBytes := uint64(b.SectorsPerFAT) * uint64(b.BytesPerSector)
	buf := make([]byte, fatBytes)

	media := uint32(b.MediaDescriptor)
	switch b.Variant {
	case FAT12:
		put12(buf, 0, 0xF00|media)
		put12(buf, 1, 0xFFF)
	case FAT16:
		binary.LittleEndian.PutUint16(buf[0:2], uint16(0xFF00|media))
		binary.LittleEndian.PutUint16(buf[2:4], 0xFFFF)
	case FAT32:
		binary.LittleEndian.PutUint32(buf[0:4], 0x0FFFFF00|media)
		binary.LittleEndian.PutUint32(buf[4:8], 0x0FFFFFFF)
		// cluster 2 (root) is a one-cluster chain terminated immediately.
		binary.LittleEndian.PutUint32(buf[8:12], fatMask(FAT32))
	}

	for i := 0; i < int(b.FATCount); i++ {
		lba := uint64(b.FirstFATSector()) + uint64(i)*uint64(b.SectorsPerFAT)
		if err := dev.WriteBlocks(lba, b.SectorsPerFAT, buf); err != nil {
			return err
		}
	}
	return nil
}

func zeroRootDirectory(dev blockdev.Device, b *BootParams) error {
	if b.Variant == FAT32 {
		buf := make([]byte, b.BytesPerCluster())
		lba := uint64(b.ClusterToSector(b.RootCluster))
		return dev.WriteBlocks(lba, uint32(b.SectorsPerCluster), buf)
	}
	buf := make([]byte, uint64(b.RootDirSectors())*uint64(b.BytesPerSector))
	return dev.WriteBlocks(uint64(b.FirstRootDirSector()), b.RootDirSectors(), buf)
}
