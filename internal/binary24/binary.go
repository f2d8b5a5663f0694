// Package binary24 reads and writes the 24-bit integers used by RTMP chunk headers.
package binary24

// MaxUint24 is the largest value a 24-bit field can carry.
const MaxUint24 = 0xFFFFFF

var BigEndian bigEndian

var LittleEndian littleEndian

type bigEndian struct{}

func (bigEndian) Uint24(b []byte) uint32 {
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

// Int24 returns the same bits as Uint24, sign-extended from bit 23.
func (e bigEndian) Int24(b []byte) int32 {
	return signExtend(e.Uint24(b))
}

func (bigEndian) PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

type littleEndian struct{}

func (littleEndian) Uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func (e littleEndian) Int24(b []byte) int32 {
	return signExtend(e.Uint24(b))
}

func (littleEndian) PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func signExtend(v uint32) int32 {
	if v&0x800000 != 0 {
		return int32(v | 0xFF000000)
	}
	return int32(v)
}
