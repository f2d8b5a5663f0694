package rtmp

import (
	"encoding/binary"

	"github.com/torresjeff/go-rtmp/internal/binary24"
)

// ReadMediumInt reads a big-endian 24-bit integer sign-extended from bit 23.
// b must hold at least 3 bytes.
func ReadMediumInt(b []byte) int32 {
	return binary24.BigEndian.Int24(b)
}

// ReadUnsignedMediumInt reads a big-endian 24-bit integer without sign extension.
func ReadUnsignedMediumInt(b []byte) uint32 {
	return binary24.BigEndian.Uint24(b)
}

// WriteMediumInt returns the low 24 bits of v in big-endian order.
func WriteMediumInt(v uint32) [3]byte {
	var b [3]byte
	binary24.BigEndian.PutUint24(b[:], v)
	return b
}

// PutMediumInt writes the low 24 bits of v into b.
func PutMediumInt(b []byte, v uint32) {
	binary24.BigEndian.PutUint24(b, v)
}

// ReadReverseInt reads a 32-bit integer stored in reversed (little-endian) byte order. The
// message stream id of a type 0 chunk header is the one field encoded this way.
func ReadReverseInt(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// WriteReverseInt returns v in reversed (little-endian) byte order.
func WriteReverseInt(v uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b
}
