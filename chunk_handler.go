package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"go.uber.org/zap"
)

// ChunkSizeLimits bounds the chunk sizes a peer may announce.
type ChunkSizeLimits struct {
	Min uint32
	Max uint32
}

// DefaultChunkSizeLimits returns the limits from the config package.
func DefaultChunkSizeLimits() ChunkSizeLimits {
	return ChunkSizeLimits{Min: config.MinChunkSize, Max: config.MaxChunkSize}
}

// Validate returns ErrInvalidChunkSize unless size is within the limits. The top bit of a chunk size
// must always be zero.
func (l ChunkSizeLimits) Validate(size uint32) error {
	if size&0x80000000 != 0 || size < l.Min || size > l.Max || size == 0 {
		return errors.Wrapf(ErrInvalidChunkSize, "chunk size %d outside [%d, %d]", size, l.Min, l.Max)
	}
	return nil
}

// ChunkHandler reassembles messages from the chunks received on a connection.
// Bytes are pushed with Feed and complete messages are pulled with NextMessage. Input is consumed
// one whole chunk at a time, so a chunk split across reads is only parsed once all of it arrived.
//
// Set Chunk Size and Abort messages are applied by the handler and never returned.
type ChunkHandler struct {
	logger        *zap.SugaredLogger
	buf           []byte
	streams       map[uint32]*chunkStream
	readChunkSize uint32
	limits        ChunkSizeLimits
}

func NewChunkHandler(logger *zap.SugaredLogger, limits ChunkSizeLimits) *ChunkHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ChunkHandler{
		logger:        logger,
		streams:       make(map[uint32]*chunkStream),
		readChunkSize: config.DefaultChunkSize,
		limits:        limits,
	}
}

// Feed appends received bytes to the input buffer.
func (h *ChunkHandler) Feed(data []byte) {
	h.buf = append(h.buf, data...)
}

// Buffered returns the number of received bytes not yet consumed.
func (h *ChunkHandler) Buffered() int {
	return len(h.buf)
}

func (h *ChunkHandler) ReadChunkSize() uint32 {
	return h.readChunkSize
}

// SetReadChunkSize changes the size of the chunks expected from the peer. An invalid size is rejected
// and the current one kept.
func (h *ChunkHandler) SetReadChunkSize(size uint32) error {
	if err := h.limits.Validate(size); err != nil {
		return err
	}
	h.logger.Debugf("read chunk size changed from %d to %d", h.readChunkSize, size)
	h.readChunkSize = size
	return nil
}

// Reset discards the input buffer and every chunk stream.
func (h *ChunkHandler) Reset() {
	h.buf = nil
	h.streams = make(map[uint32]*chunkStream)
}

// NextMessage parses buffered chunks until a message is complete.
// ErrIncompleteHeader or ErrIncompleteChunk mean more bytes are needed; nothing was lost and the
// call can be repeated after the next Feed.
// A malformed chunk header leaves the stream without a known chunk boundary, so the buffered input is
// discarded and the chunk stream state is left as it was before the bad chunk.
// An invalid Set Chunk Size is consumed and reported with ErrInvalidChunkSize, the old size stays.
func (h *ChunkHandler) NextMessage() (*Message, error) {
	for {
		message, err := h.readChunk()
		if err != nil {
			if !IsNeedMoreData(err) {
				h.buf = nil
			}
			return nil, err
		}
		if message == nil {
			continue
		}

		switch message.Type {
		case SetChunkSize:
			if len(message.Payload) < 4 {
				return nil, errors.Wrap(ErrInvalidChunkSize, "set chunk size message too short")
			}
			size := binary.BigEndian.Uint32(message.Payload)
			if err := h.SetReadChunkSize(size); err != nil {
				h.logger.Warnf("rejected chunk size %d announced by peer, keeping %d", size, h.readChunkSize)
				return nil, err
			}
		case AbortMessage:
			if len(message.Payload) < 4 {
				return nil, errors.Wrap(ErrInvalidChannelID, "abort message too short")
			}
			h.Abort(binary.BigEndian.Uint32(message.Payload))
		default:
			return message, nil
		}
	}
}

// Abort discards the partially received message on a chunk stream.
func (h *ChunkHandler) Abort(channelID uint32) {
	if cs, exists := h.streams[channelID]; exists && cs.inFlight() {
		h.logger.Debugf("aborted message on chunk stream %d with %d bytes missing", channelID, cs.remaining)
		cs.abort()
	}
}

// readChunk parses and consumes exactly one chunk. It returns the message the chunk completed, or nil
// if the message still misses bytes. On error nothing is consumed.
func (h *ChunkHandler) readChunk() (*Message, error) {
	chunkType, channelID, n, err := DecodeBasicHeader(h.buf)
	if err != nil {
		return nil, err
	}

	cs, exists := h.streams[channelID]
	if chunkType != ChunkType0 && (!exists || !cs.hasLast) {
		return nil, errors.Wrapf(ErrNoPreviousChunk, "chunk type %d on chunk stream %d", chunkType, channelID)
	}
	extended := exists && cs.extended
	header, m, err := DecodeMessageHeader(chunkType, h.buf[n:], extended)
	if err != nil {
		return nil, err
	}
	header.ChannelID = channelID
	headerLength := n + m

	// Resolve the omitted fields against the previous header before touching any state.
	var resolved ChunkHeader
	var timestamp, delta uint32
	continuation := false
	switch chunkType {
	case ChunkType0:
		resolved = header
		timestamp = header.Timestamp
	case ChunkType1:
		resolved = header
		resolved.MessageStreamID = cs.last.MessageStreamID
		delta = header.Timestamp
		timestamp = cs.timestamp + delta
	case ChunkType2:
		resolved = cs.last
		resolved.Type = ChunkType2
		resolved.Timestamp = header.Timestamp
		resolved.Extended = header.Extended
		delta = header.Timestamp
		timestamp = cs.timestamp + delta
	case ChunkType3:
		resolved = cs.last
		continuation = cs.inFlight()
		delta = cs.delta
		if continuation {
			timestamp = cs.timestamp
		} else {
			timestamp = cs.timestamp + delta
		}
	}

	remaining := resolved.MessageLength
	if continuation {
		remaining = cs.remaining
	}
	payloadLength := remaining
	if payloadLength > h.readChunkSize {
		payloadLength = h.readChunkSize
	}
	if len(h.buf) < headerLength+int(payloadLength) {
		return nil, ErrIncompleteChunk
	}

	// Commit.
	if !exists {
		cs = &chunkStream{}
		h.streams[channelID] = cs
	}
	if !continuation {
		// A new header on a chunk stream with a message in flight implicitly aborts that message.
		if cs.inFlight() {
			h.logger.Debugf("chunk type %d on chunk stream %d dropped a message with %d bytes missing", chunkType, channelID, cs.remaining)
		}
		// The announced length is untrusted, the payload grows as chunks actually arrive.
		cs.message = &Message{
			ChannelID: channelID,
			Timestamp: timestamp,
			Type:      resolved.MessageType,
			StreamID:  resolved.MessageStreamID,
			Payload:   make([]byte, 0, payloadLength),
		}
		cs.remaining = resolved.MessageLength
		cs.timestamp = timestamp
		cs.delta = delta
		if chunkType != ChunkType3 {
			cs.extended = header.Extended
		}
	}
	cs.last = resolved
	cs.hasLast = true

	payload := h.buf[headerLength : headerLength+int(payloadLength)]
	cs.message.Payload = append(cs.message.Payload, payload...)
	cs.remaining -= payloadLength
	h.buf = h.buf[headerLength+int(payloadLength):]
	if len(h.buf) == 0 {
		h.buf = nil
	}

	if cs.remaining > 0 {
		return nil, nil
	}
	message := cs.message
	cs.message = nil
	return message, nil
}
