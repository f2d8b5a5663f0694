package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
)

// ChunkGenerator splits outbound messages into chunks of at most writeChunkSize payload bytes.
// Headers are compressed against the previous message sent on the same chunk stream:
//   - type 0 the first time a chunk stream is used or when the message stream id changes
//   - type 1 when the message length or type changes
//   - type 2 when only the timestamp delta changes
//   - type 3 when the delta repeats, and for every continuation chunk
type ChunkGenerator struct {
	writeChunkSize uint32
	limits         ChunkSizeLimits
	streams        map[uint32]*outboundChunkStream
}

func NewChunkGenerator(limits ChunkSizeLimits) *ChunkGenerator {
	return &ChunkGenerator{
		writeChunkSize: config.DefaultChunkSize,
		limits:         limits,
		streams:        make(map[uint32]*outboundChunkStream),
	}
}

func (g *ChunkGenerator) WriteChunkSize() uint32 {
	return g.writeChunkSize
}

// SetWriteChunkSize changes the chunk size used for messages generated afterwards. The peer must be told
// first, see SetChunkSizeChunks.
func (g *ChunkGenerator) SetWriteChunkSize(size uint32) error {
	if err := g.limits.Validate(size); err != nil {
		return err
	}
	g.writeChunkSize = size
	return nil
}

// SetChunkSizeChunks returns the chunks of a Set Chunk Size message announcing size, generated with the
// current chunk size, and only then switches to the new size.
func (g *ChunkGenerator) SetChunkSizeChunks(size uint32) ([]byte, error) {
	if err := g.limits.Validate(size); err != nil {
		return nil, err
	}
	chunks, err := g.Generate(NewSetChunkSizeMessage(size))
	if err != nil {
		return nil, err
	}
	g.writeChunkSize = size
	return chunks, nil
}

// Generate returns the chunks carrying message.
func (g *ChunkGenerator) Generate(message *Message) ([]byte, error) {
	return g.AppendChunks(nil, message)
}

// AppendChunks appends the chunks carrying message to dst.
func (g *ChunkGenerator) AppendChunks(dst []byte, message *Message) ([]byte, error) {
	if message.ChannelID < ProtocolChannelID || message.ChannelID > MaxChannelID {
		return dst, errors.Wrapf(ErrInvalidChannelID, "chunk stream id %d", message.ChannelID)
	}
	length := message.Length()
	if length > max24BitTimestamp {
		return dst, errors.Errorf("rtmp: message length %d does not fit in 24 bits", length)
	}

	cs, exists := g.streams[message.ChannelID]
	if !exists {
		cs = &outboundChunkStream{}
	}

	header := ChunkHeader{
		ChannelID:       message.ChannelID,
		MessageLength:   length,
		MessageType:     message.Type,
		MessageStreamID: message.StreamID,
	}
	delta := RolloverDelta(message.Timestamp, cs.timestamp)
	switch {
	case !cs.used || cs.streamID != message.StreamID:
		header.Type = ChunkType0
		header.Timestamp = message.Timestamp
		delta = 0
	case cs.length != length || cs.typeID != message.Type:
		header.Type = ChunkType1
		header.Timestamp = delta
	case cs.delta != delta:
		header.Type = ChunkType2
		header.Timestamp = delta
	default:
		header.Type = ChunkType3
		header.Timestamp = cs.field
		header.Extended = cs.extended
	}

	if header.Type != ChunkType3 {
		cs.field = header.Timestamp
		cs.extended = header.Timestamp >= max24BitTimestamp
	}

	var err error
	dst, err = AppendChunkHeader(dst, &header)
	if err != nil {
		return dst, err
	}
	continuation := ChunkHeader{
		Type:      ChunkType3,
		ChannelID: message.ChannelID,
		Timestamp: cs.field,
		Extended:  cs.extended,
	}
	payload := message.Payload
	for {
		n := uint32(len(payload))
		if n > g.writeChunkSize {
			n = g.writeChunkSize
		}
		dst = append(dst, payload[:n]...)
		payload = payload[n:]
		if len(payload) == 0 {
			break
		}
		dst, _ = AppendChunkHeader(dst, &continuation)
	}

	cs.used = true
	cs.streamID = message.StreamID
	cs.length = length
	cs.typeID = message.Type
	cs.timestamp = message.Timestamp
	cs.delta = delta
	g.streams[message.ChannelID] = cs
	return dst, nil
}
