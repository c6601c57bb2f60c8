package vbd

import "encoding/binary"

// Classic MBR layout: the partition table occupies bytes [446, 510), four
// 16-byte entries, with the 0x55 0xAA signature at [510, 512).
const (
	mbrPartTableOffset = 446
	mbrEntrySize       = 16
	mbrEntryCount      = 4
	mbrSignatureOffset = 510
)

const (
	partTypeEmpty    = 0x00
	partTypeExtended = 0x05
	partTypeExtLBA   = 0x0F
)

// MBREntry is one raw 16-byte MBR partition table entry, decoded.
type MBREntry struct {
	Bootable bool
	Type     byte
	FirstLBA uint32
	NumLBA   uint32
}

func (e MBREntry) isExtended() bool {
	return e.Type == partTypeExtended || e.Type == partTypeExtLBA
}

func (e MBREntry) isEmpty() bool {
	return e.Type == partTypeEmpty || e.NumLBA == 0
}

// ParseMBR decodes a 512-byte boot sector into its four primary entries.
// It does not validate the signature; callers that need to distinguish
// "no label" from "corrupt label" should check HasMBRSignature first.
func ParseMBR(sector []byte) [mbrEntryCount]MBREntry {
	var out [mbrEntryCount]MBREntry
	for i := 0; i < mbrEntryCount; i++ {
		off := mbrPartTableOffset + i*mbrEntrySize
		e := sector[off : off+mbrEntrySize]
		out[i] = MBREntry{
			Bootable: e[0] == 0x80,
			Type:     e[4],
			FirstLBA: binary.LittleEndian.Uint32(e[8:12]),
			NumLBA:   binary.LittleEndian.Uint32(e[12:16]),
		}
	}
	return out
}

// HasMBRSignature reports whether sector carries the 0x55AA boot
// signature.
func HasMBRSignature(sector []byte) bool {
	return len(sector) >= 512 && sector[mbrSignatureOffset] == 0x55 && sector[mbrSignatureOffset+1] == 0xAA
}

// WriteMBRSignature stamps the boot signature onto a freshly zeroed
// sector, used by mkfat-adjacent tooling when carving a fresh label.
func WriteMBRSignature(sector []byte) {
	sector[mbrSignatureOffset] = 0x55
	sector[mbrSignatureOffset+1] = 0xAA
}

// resolveExtendedChain walks the linked list of logical partitions inside
// an extended partition, returning each logical partition's absolute
// first LBA and length. extFirstLBA is the first LBA of the outermost
// extended partition (the base for all "relative to extended" offsets
// MBR logical partitions use).
func resolveExtendedChain(read func(lba uint64) ([]byte, error), extFirstLBA uint32) ([]MBREntry, error) {
	var logicals []MBREntry
	nextTableLBA := extFirstLBA
	for nextTableLBA != 0 {
		sector, err := read(uint64(nextTableLBA))
		if err != nil {
			return nil, err
		}
		entries := ParseMBR(sector)
		// Entry 0: the logical partition itself, relative to this EBR.
		if !entries[0].isEmpty() {
			abs := entries[0]
			abs.FirstLBA += nextTableLBA
			logicals = append(logicals, abs)
		}
		// Entry 1: link to the next EBR, relative to the outermost extended
		// partition's first LBA.
		if entries[1].isEmpty() {
			break
		}
		nextTableLBA = extFirstLBA + entries[1].FirstLBA
	}
	return logicals, nil
}
