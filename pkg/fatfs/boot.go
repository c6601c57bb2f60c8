package fatfs

import "encoding/binary"

// BootParams holds the BPB fields derived once at mount: the FAT
// volume's on-disk boot parameters.
type BootParams struct {
	Variant Variant

	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	RootEntryMax      uint16 // FAT12/16 only
	TotalSectors      uint32
	MediaDescriptor   uint8
	SectorsPerFAT     uint32 // 32-bit for FAT32, widened from 16-bit otherwise
	HiddenSectors     uint32

	// FAT32 extension.
	RootCluster   uint32
	FSInfoSector  uint16
	BackupBootSec uint16

	VolumeLabel  [11]byte
	VolumeSerial uint32
}

// BytesPerCluster returns the cluster size in bytes.
func (b *BootParams) BytesPerCluster() uint32 {
	return uint32(b.BytesPerSector) * uint32(b.SectorsPerCluster)
}

// RootDirSectors returns the number of sectors occupied by a fixed-area
// root directory (FAT12/16 only; zero for FAT32, whose root is a regular
// cluster chain).
func (b *BootParams) RootDirSectors() uint32 {
	if b.Variant == FAT32 {
		return 0
	}
	bytesPerEntry := uint32(DentrySize)
	total := uint32(b.RootEntryMax) * bytesPerEntry
	return (total + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector)
}

// FirstFATSector returns the LBA of the first FAT copy.
func (b *BootParams) FirstFATSector() uint32 {
	return uint32(b.ReservedSectors)
}

// FirstRootDirSector returns the LBA of the fixed-area root directory
// (FAT12/16 only).
func (b *BootParams) FirstRootDirSector() uint32 {
	return b.FirstFATSector() + uint32(b.FATCount)*b.SectorsPerFAT
}

// FirstDataSector returns the LBA of cluster 2, the first allocatable
// cluster on the volume.
func (b *BootParams) FirstDataSector() uint32 {
	return b.FirstRootDirSector() + b.RootDirSectors()
}

// ClusterToSector converts a cluster number to its first LBA.
func (b *BootParams) ClusterToSector(cluster uint32) uint32 {
	return b.FirstDataSector() + (cluster-2)*uint32(b.SectorsPerCluster)
}

// ClusterCount returns the number of data clusters on the volume, the
// quantity mkfat's FAT12/16/32 auto-selection thresholds (4085/65525) are
// computed against.
func (b *BootParams) ClusterCount() uint32 {
	dataSectors := b.TotalSectors - b.FirstDataSector()
	return dataSectors / uint32(b.SectorsPerCluster)
}

// SelectVariant implements mkfat's auto-selection rule from the cluster
// count.
func SelectVariant(clusterCount uint32) Variant {
	switch {
	case clusterCount <= 4085:
		return FAT12
	case clusterCount <= 65525:
		return FAT16
	default:
		return FAT32
	}
}

// ParseBootSector decodes a 512-byte (or larger, if bytesPerSector says
// so) boot sector. The caller determines the variant from RootEntryMax
// (0 implies FAT32) combined with the computed cluster count, mirroring
// how real FAT drivers bootstrap: BPB fields alone don't name the
// variant, the cluster count does.
func ParseBootSector(sector []byte) (*BootParams, error) {
	if len(sector) < 512 {
		return nil, newError(ErrBadArgument, "boot sector shorter than 512 bytes")
	}
	b := &BootParams{
		BytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		FATCount:          sector[16],
		RootEntryMax:      binary.LittleEndian.Uint16(sector[17:19]),
		MediaDescriptor:   sector[21],
		HiddenSectors:     binary.LittleEndian.Uint32(sector[28:32]),
	}

	totsec16 := binary.LittleEndian.Uint16(sector[19:21])
	totsec32 := binary.LittleEndian.Uint32(sector[32:36])
	if totsec16 != 0 {
		b.TotalSectors = uint32(totsec16)
	} else {
		b.TotalSectors = totsec32
	}

	secPerFAT16 := binary.LittleEndian.Uint16(sector[22:24])
	if secPerFAT16 != 0 {
		b.SectorsPerFAT = uint32(secPerFAT16)
		b.Variant = FAT16 // refined to FAT12 below once cluster count is known
	} else {
		b.SectorsPerFAT = binary.LittleEndian.Uint32(sector[36:40])
		b.RootCluster = binary.LittleEndian.Uint32(sector[44:48])
		b.FSInfoSector = binary.LittleEndian.Uint16(sector[48:50])
		b.BackupBootSec = binary.LittleEndian.Uint16(sector[50:52])
		b.Variant = FAT32
	}

	if b.Variant != FAT32 {
		cc := b.ClusterCount()
		if cc <= 4085 {
			b.Variant = FAT12
		}
	}

	serialOff := 39
	labelOff := 43
	if b.Variant == FAT32 {
		serialOff = 67
		labelOff = 71
	}
	b.VolumeSerial = binary.LittleEndian.Uint32(sector[serialOff : serialOff+4])
	copy(b.VolumeLabel[:], sector[labelOff:labelOff+11])

	if err := sanityCheck(b, sector); err != nil {
		return nil, err
	}
	return b, nil
}

// sanityCheck implements the mount-time validation checks: nonzero
// FAT count, consistent total-sector encoding, a plausible media
// descriptor, nonzero sectors-per-FAT, and (FAT12/16) a root-directory
// byte count that's a whole number of sectors. Per-FAT-copy signature
// checks (entry 0/1 reserved bits) live separately in
// CheckFATSignatures, which Mount does not call.
func sanityCheck(b *BootParams, sector []byte) error {
	if b.FATCount == 0 {
		return newError(ErrBadArgument, "FAT count is zero")
	}
	if b.TotalSectors == 0 {
		return newError(ErrBadArgument, "total sector count is zero")
	}
	totsec16 := binary.LittleEndian.Uint16(sector[19:21])
	totsec32 := binary.LittleEndian.Uint32(sector[32:36])
	if totsec16 != 0 && totsec32 != 0 && uint32(totsec16) != totsec32 {
		return newError(ErrBadArgument, "16-bit and 32-bit total sector counts disagree")
	}
	if b.MediaDescriptor < 0xF0 {
		return newError(ErrBadArgument, "implausible media descriptor 0x%02x", b.MediaDescriptor)
	}
	if b.SectorsPerFAT == 0 {
		return newError(ErrBadArgument, "sectors per FAT is zero")
	}
	if b.Variant != FAT32 {
		total := uint32(b.RootEntryMax) * DentrySize
		if total%uint32(b.BytesPerSector) != 0 {
			return newError(ErrBadArgument, "root directory byte count is not a multiple of sector size")
		}
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return newError(ErrBadArgument, "missing boot sector signature")
	}
	return nil
}

// CheckFATSignatures validates entry 0/1 of each FAT copy: entry 0's
// low byte equals the media descriptor, and (FAT16/32 only)
// the remaining bits of entries 0 and 1 are all ones.
func CheckFATSignatures(b *BootParams, fatCopy []byte) error {
	var e0, e1 uint32
	switch b.Variant {
	case FAT12:
		e0 = get12(fatCopy, 0)
	case FAT16:
		e0 = uint32(binary.LittleEndian.Uint16(fatCopy[0:2]))
		e1 = uint32(binary.LittleEndian.Uint16(fatCopy[2:4]))
	case FAT32:
		e0 = binary.LittleEndian.Uint32(fatCopy[0:4]) & 0x0FFFFFFF
		e1 = binary.LittleEndian.Uint32(fatCopy[4:8]) & 0x0FFFFFFF
	}
	if byte(e0) != b.MediaDescriptor {
		return newError(ErrBadArgument, "FAT entry 0 low byte does not match media descriptor")
	}
	if b.Variant != FAT12 {
		if e0>>8 != fatMask(b.Variant)>>8 || e1 != 0xFFFFFFFF&fatMask(b.Variant) {
			return newError(ErrBadArgument, "FAT entry 0/1 reserved bits are not all ones")
		}
	}
	return nil
}

func fatMask(v Variant) uint32 {
	if v == FAT32 {
		return 0x0FFFFFFF
	}
	return 0xFFFF
}
