package rtmp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediumIntRoundTrip(t *testing.T) {
	for v := uint32(0); v <= 0xFFFFFF; v += 0x1F3 {
		b := WriteMediumInt(v)
		assert.Equal(t, v, ReadUnsignedMediumInt(b[:]))
	}
	b := WriteMediumInt(0xFFFFFF)
	assert.Equal(t, uint32(0xFFFFFF), ReadUnsignedMediumInt(b[:]))
}

func TestReadMediumIntSignExtension(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		want int32
	}{
		{"zero", 0, 0},
		{"positive", 0x123456, 0x123456},
		{"largestPositive", 0x7FFFFF, 0x7FFFFF},
		{"smallestNegative", 0x800000, -0x800000},
		{"minusOne", 0xFFFFFF, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := WriteMediumInt(tt.in)
			assert.Equal(t, tt.want, ReadMediumInt(b[:]))
		})
	}
}

func TestWriteMediumIntTruncates(t *testing.T) {
	b := WriteMediumInt(0xAB123456)
	assert.Equal(t, [3]byte{0x12, 0x34, 0x56}, b)
}

func TestReverseIntRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x01020304, 0xDEADBEEF, 0xFFFFFFFF} {
		b := WriteReverseInt(v)
		assert.Equal(t, v, ReadReverseInt(b[:]))

		// reading the reversed bytes back to front gives the big-endian value
		reversed := [4]byte{b[3], b[2], b[1], b[0]}
		assert.Equal(t, v, binary.BigEndian.Uint32(reversed[:]))
	}
}
