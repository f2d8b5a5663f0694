package rtmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderLength(t *testing.T) {
	assert.Equal(t, 12, HeaderLength(ChunkType0))
	assert.Equal(t, 8, HeaderLength(ChunkType1))
	assert.Equal(t, 4, HeaderLength(ChunkType2))
	assert.Equal(t, 1, HeaderLength(ChunkType3))
}

func TestEncodeBasicHeaderRoundTrip(t *testing.T) {
	channels := []int{0, 4, 63, 64, 319, 320}
	for ct := ChunkType0; ct <= ChunkType3; ct++ {
		for _, id := range channels {
			b, err := EncodeBasicHeader(ct, id)
			require.NoError(t, err)
			assert.Equal(t, ct, DecodeHeaderFormat(b[0]), "type %d channel %d", ct, id)

			got, err := DecodeChannelID(b)
			require.NoError(t, err)
			assert.Equal(t, uint32(id), got, "type %d channel %d", ct, id)
		}
	}
}

func TestEncodeBasicHeaderForms(t *testing.T) {
	tests := []struct {
		name    string
		ct      ChunkType
		channel int
		want    []byte
	}{
		{"oneByte", ChunkType0, 3, []byte{0x03}},
		{"oneByteMax", ChunkType3, 63, []byte{0xFF}},
		{"twoByteMin", ChunkType1, 64, []byte{0x40, 0x00}},
		{"twoByteMax", ChunkType0, 319, []byte{0x00, 0xFF}},
		{"threeByteMin", ChunkType2, 320, []byte{0x81, 0x00, 0x01}},
		{"threeByteLowByteFirst", ChunkType0, 64 + 0x0102, []byte{0x01, 0x02, 0x01}},
		{"threeByteMax", ChunkType0, MaxChannelID, []byte{0x01, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeBasicHeader(tt.ct, tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)

			ct, id, n, err := DecodeBasicHeader(b)
			require.NoError(t, err)
			assert.Equal(t, tt.ct, ct)
			assert.Equal(t, uint32(tt.channel), id)
			assert.Equal(t, len(b), n)
		})
	}
}

func TestEncodeBasicHeaderInvalid(t *testing.T) {
	_, err := EncodeBasicHeader(ChunkType0, -1)
	assert.ErrorIs(t, err, ErrInvalidChannelID)

	_, err = EncodeBasicHeader(ChunkType0, MaxChannelID+1)
	assert.ErrorIs(t, err, ErrInvalidChannelID)

	_, err = EncodeBasicHeader(ChunkType(4), 3)
	assert.ErrorIs(t, err, ErrInvalidChunkType)
}

func TestDecodeBasicHeaderIncomplete(t *testing.T) {
	for _, b := range [][]byte{nil, {0x00}, {0x01}, {0x01, 0x10}} {
		_, _, n, err := DecodeBasicHeader(b)
		assert.Equal(t, ErrIncompleteHeader, err, "% x", b)
		assert.Equal(t, 0, n)
	}
}

func TestChunkHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header ChunkHeader
	}{
		{"type0", ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 1000, MessageLength: 300, MessageType: VideoMessage, MessageStreamID: 1}},
		{"type0Extended", ChunkHeader{Type: ChunkType0, ChannelID: 5, Timestamp: 0x01000000, MessageLength: 10, MessageType: AudioMessage, MessageStreamID: 7, Extended: true}},
		{"type0At24BitLimit", ChunkHeader{Type: ChunkType0, ChannelID: 5, Timestamp: max24BitTimestamp, MessageLength: 10, MessageType: AudioMessage, Extended: true}},
		{"type1", ChunkHeader{Type: ChunkType1, ChannelID: 64, Timestamp: 33, MessageLength: 0xFFFFFF, MessageType: DataMessageAMF0}},
		{"type2", ChunkHeader{Type: ChunkType2, ChannelID: 320, Timestamp: 40}},
		{"type2Extended", ChunkHeader{Type: ChunkType2, ChannelID: 6, Timestamp: 0xFFFFFFFF, Extended: true}},
		{"type3", ChunkHeader{Type: ChunkType3, ChannelID: 6}},
		{"type3Extended", ChunkHeader{Type: ChunkType3, ChannelID: 6, Timestamp: 0x02000000, Extended: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := AppendChunkHeader(nil, &tt.header)
			require.NoError(t, err)

			ct, id, n, err := DecodeBasicHeader(b)
			require.NoError(t, err)
			assert.Equal(t, tt.header.Type, ct)

			h, m, err := DecodeMessageHeader(ct, b[n:], tt.header.Extended)
			require.NoError(t, err)
			h.ChannelID = id
			assert.Equal(t, tt.header, h)
			assert.Equal(t, len(b), n+m)
		})
	}
}

func TestDecodeMessageHeaderIncomplete(t *testing.T) {
	h := ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 0x01000000, MessageLength: 10, MessageType: AudioMessage}
	b, err := AppendChunkHeader(nil, &h)
	require.NoError(t, err)
	require.Len(t, b, HeaderLength(ChunkType0)+extendedTimestampLength)

	// every truncation of the header, including a missing extended timestamp, must be reported
	for i := 1; i < len(b); i++ {
		_, n, err := DecodeMessageHeader(ChunkType0, b[1:i], false)
		assert.Equal(t, ErrIncompleteHeader, err, "length %d", i)
		assert.Equal(t, 0, n)
	}

	_, _, err = DecodeMessageHeader(ChunkType3, []byte{0, 0, 0}, true)
	assert.Equal(t, ErrIncompleteHeader, err)
}
