package fatfs

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// lfnCodec is shared by encodeLongName/decodeLongName; FAT long-filename
// slots store UCS-2 code units, which this implementation treats as
// plain UTF-16LE (surrogate pairs are passed through uninterpreted, as
// no FAT implementation in the wild emits them either) using the same
// x/text transform the rest of the ecosystem reaches for instead of a
// hand-rolled surrogate encoder.
var lfnCodec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// encodeLongName converts a UTF-8 Go string into the sequence of UCS-2
// code units its LFN slots will hold.
func encodeLongName(name string) ([]uint16, error) {
	raw, err := lfnCodec.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, newError(ErrBadArgument, "name %q is not representable as UCS-2: %v", name, err)
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i : 2*i+2])
	}
	return units, nil
}

// decodeLongName reassembles a UTF-8 Go string from a sequence of UCS-2
// code units collected from LFN slots (0x0000/0xFFFF terminator and
// padding values already stripped by the caller).
func decodeLongName(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[2*i:2*i+2], u)
	}
	out, err := lfnCodec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", newError(ErrBadArgument, "LFN slots are not valid UCS-2: %v", err)
	}
	return string(out), nil
}

// lfnSlotCount returns how many 13-char LFN slots are needed to hold name.
func lfnSlotCount(units []uint16) int {
	return (len(units) + lfnCharsPerEnt - 1) / lfnCharsPerEnt
}
