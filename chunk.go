package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/internal/binary24"
)

type ChunkType uint8

const (
	ChunkType0 ChunkType = iota
	ChunkType1
	ChunkType2
	ChunkType3
)

const (
	chunkType0MessageHeaderLength = 11
	chunkType1MessageHeaderLength = 7
	chunkType2MessageHeaderLength = 3

	extendedTimestampLength = 4
	max24BitTimestamp       = binary24.MaxUint24
)

const (
	// Chunk stream ids 0 and 1 select the 2 and 3 byte basic header forms, so the one byte form
	// covers ids 2-63.
	maxOneByteChannelID = 63
	maxTwoByteChannelID = 319
	MaxChannelID        = 65599

	// ProtocolChannelID is the chunk stream reserved for protocol control messages.
	ProtocolChannelID = 2
)

// ChunkHeader is the decoded form of a chunk header. Only the fields present for its Type are
// meaningful: Timestamp is the absolute timestamp in a type 0 header and the delta in types 1 and 2.
type ChunkHeader struct {
	Type            ChunkType
	ChannelID       uint32
	Timestamp       uint32
	MessageLength   uint32
	MessageType     MessageType
	MessageStreamID uint32
	// Extended is set when the timestamp did not fit in 24 bits and was carried in the 4 byte
	// extended timestamp field.
	Extended bool
}

// DecodeHeaderFormat returns the chunk type stored in the two high bits of the first basic header byte.
func DecodeHeaderFormat(b byte) ChunkType {
	return ChunkType((b >> 6) & 0x03)
}

// HeaderLength returns the size of a chunk header of the given type when it uses the one byte basic
// header form, excluding any extended timestamp.
func HeaderLength(t ChunkType) int {
	switch t {
	case ChunkType0:
		return 1 + chunkType0MessageHeaderLength
	case ChunkType1:
		return 1 + chunkType1MessageHeaderLength
	case ChunkType2:
		return 1 + chunkType2MessageHeaderLength
	default:
		return 1
	}
}

func messageHeaderLength(t ChunkType) int {
	return HeaderLength(t) - 1
}

func basicHeaderLength(channelID uint32) int {
	switch {
	case channelID <= maxOneByteChannelID:
		return 1
	case channelID <= maxTwoByteChannelID:
		return 2
	default:
		return 3
	}
}

// EncodeBasicHeader returns the 1, 2 or 3 byte basic header for the chunk type and chunk stream id.
func EncodeBasicHeader(t ChunkType, channelID int) ([]byte, error) {
	if t > ChunkType3 {
		return nil, ErrInvalidChunkType
	}
	if channelID < 0 || channelID > MaxChannelID {
		return nil, errors.Wrapf(ErrInvalidChannelID, "chunk stream id %d", channelID)
	}
	return appendBasicHeader(nil, t, uint32(channelID)), nil
}

func appendBasicHeader(dst []byte, t ChunkType, channelID uint32) []byte {
	marker := byte(t) << 6
	switch basicHeaderLength(channelID) {
	case 1:
		return append(dst, marker|byte(channelID))
	case 2:
		return append(dst, marker, byte(channelID-64))
	default:
		// The 3 byte form stores (id - 64) with the low byte first. That is the order on the wire,
		// even though the field is often described as a big-endian 16-bit value.
		offset := channelID - 64
		return append(dst, marker|1, byte(offset), byte(offset>>8))
	}
}

// DecodeBasicHeader parses the basic header at the start of b and returns the chunk type, the chunk
// stream id and the number of bytes used.
func DecodeBasicHeader(b []byte) (ChunkType, uint32, int, error) {
	if len(b) < 1 {
		return 0, 0, 0, ErrIncompleteHeader
	}
	t := DecodeHeaderFormat(b[0])
	switch id := uint32(b[0] & 0x3F); id {
	case 0:
		if len(b) < 2 {
			return 0, 0, 0, ErrIncompleteHeader
		}
		return t, uint32(b[1]) + 64, 2, nil
	case 1:
		if len(b) < 3 {
			return 0, 0, 0, ErrIncompleteHeader
		}
		return t, uint32(b[2])<<8 + uint32(b[1]) + 64, 3, nil
	default:
		return t, id, 1, nil
	}
}

// DecodeMessageHeader parses the message header of a chunk of type t from b, which must start right after
// the basic header. extendedType3 tells a type 3 header whether its chunk stream is using extended
// timestamps, since type 3 headers repeat the extended field without announcing it.
// Nothing is decoded if b is too short; ErrIncompleteHeader is returned and b can be retried later.
func DecodeMessageHeader(t ChunkType, b []byte, extendedType3 bool) (ChunkHeader, int, error) {
	h := ChunkHeader{Type: t}
	n := messageHeaderLength(t)
	if len(b) < n {
		return h, 0, ErrIncompleteHeader
	}
	switch t {
	case ChunkType0:
		h.MessageStreamID = ReadReverseInt(b[7:11])
		fallthrough
	case ChunkType1:
		h.MessageLength = ReadUnsignedMediumInt(b[3:6])
		h.MessageType = MessageType(b[6])
		fallthrough
	case ChunkType2:
		h.Timestamp = ReadUnsignedMediumInt(b[0:3])
		h.Extended = h.Timestamp == max24BitTimestamp
	case ChunkType3:
		h.Extended = extendedType3
	}
	if h.Extended {
		if len(b) < n+extendedTimestampLength {
			return ChunkHeader{Type: t}, 0, ErrIncompleteHeader
		}
		h.Timestamp = binary.BigEndian.Uint32(b[n:])
		n += extendedTimestampLength
	}
	return h, n, nil
}

// AppendChunkHeader appends the wire form of h to dst. For types 0 to 2 the extended timestamp field is
// used whenever Timestamp does not fit in 24 bits. A type 3 header writes the extended field only if
// h.Extended is set.
func AppendChunkHeader(dst []byte, h *ChunkHeader) ([]byte, error) {
	if h.Type > ChunkType3 {
		return dst, ErrInvalidChunkType
	}
	if h.ChannelID > MaxChannelID {
		return dst, errors.Wrapf(ErrInvalidChannelID, "chunk stream id %d", h.ChannelID)
	}
	dst = appendBasicHeader(dst, h.Type, h.ChannelID)

	extended := h.Extended
	if h.Type != ChunkType3 {
		extended = h.Timestamp >= max24BitTimestamp
		field := h.Timestamp
		if extended {
			field = max24BitTimestamp
		}
		ts := WriteMediumInt(field)
		dst = append(dst, ts[:]...)
	}
	if h.Type == ChunkType0 || h.Type == ChunkType1 {
		length := WriteMediumInt(h.MessageLength)
		dst = append(dst, length[:]...)
		dst = append(dst, byte(h.MessageType))
	}
	if h.Type == ChunkType0 {
		streamID := WriteReverseInt(h.MessageStreamID)
		dst = append(dst, streamID[:]...)
	}
	if extended {
		var ext [extendedTimestampLength]byte
		binary.BigEndian.PutUint32(ext[:], h.Timestamp)
		dst = append(dst, ext[:]...)
	}
	return dst, nil
}

// DecodeChannelID returns the chunk stream id of a complete basic header whose length is already known,
// as produced by EncodeBasicHeader. Unlike DecodeBasicHeader it also recovers the reserved ids 0 and 1.
func DecodeChannelID(b []byte) (uint32, error) {
	switch len(b) {
	case 1:
		return uint32(b[0] & 0x3F), nil
	case 2:
		return uint32(b[1]) + 64, nil
	case 3:
		return uint32(b[2])<<8 + uint32(b[1]) + 64, nil
	}
	return 0, ErrIncompleteHeader
}
