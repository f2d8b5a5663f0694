package rtmp

import (
	"sync"

	"github.com/pkg/errors"
)

// Each message stream owns a band of 5 consecutive chunk stream ids starting at channel 4.
const (
	firstStreamChannel = 4
	channelsPerStream  = 5

	// MaxStreamID is the highest message stream id whose whole band fits below MaxChannelID.
	MaxStreamID = (MaxChannelID-firstStreamChannel-(channelsPerStream-1))/channelsPerStream + 1
)

// ChannelForStream returns the first chunk stream id of the band used by a message stream.
// Stream 0 is the control stream and has no band, so -1 is returned.
func ChannelForStream(streamID uint32) int {
	if streamID == 0 {
		return -1
	}
	return firstStreamChannel + channelsPerStream*int(streamID-1)
}

// StreamForChannel returns the message stream whose band contains channelID. Channels 0 to 3 are
// reserved for protocol control and map to stream 0.
func StreamForChannel(channelID uint32) uint32 {
	if channelID < firstStreamChannel {
		return 0
	}
	return (channelID-firstStreamChannel)/channelsPerStream + 1
}

// StreamIDPool hands out message stream ids for one connection. Ids start at 1, 0 being the control
// stream, and at most capacity of them may be reserved at the same time.
type StreamIDPool struct {
	mu       sync.Mutex
	capacity int
	reserved map[uint32]struct{}
}

func NewStreamIDPool(capacity int) *StreamIDPool {
	return &StreamIDPool{
		capacity: capacity,
		reserved: make(map[uint32]struct{}),
	}
}

// Reserve returns the lowest free stream id.
func (p *StreamIDPool) Reserve() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveFrom(1)
}

// ReserveID reserves the requested id if it is free. Otherwise the next free id above it is reserved
// and returned instead, so a peer repeating a stale id still gets a usable stream.
// Ids above MaxStreamID have no chunk stream band and are rejected with ErrInvalidStreamID.
func (p *StreamIDPool) ReserveID(requested uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if requested == 0 {
		requested = 1
	}
	if requested > MaxStreamID {
		return 0, errors.Wrapf(ErrInvalidStreamID, "stream id %d above %d", requested, MaxStreamID)
	}
	return p.reserveFrom(requested)
}

func (p *StreamIDPool) reserveFrom(id uint32) (uint32, error) {
	if len(p.reserved) >= p.capacity {
		return 0, errors.Wrapf(ErrCapacityExceeded, "%d streams already reserved", len(p.reserved))
	}
	for ; id <= MaxStreamID; id++ {
		if _, taken := p.reserved[id]; !taken {
			p.reserved[id] = struct{}{}
			return id, nil
		}
	}
	return 0, ErrCapacityExceeded
}

// Release frees id. Releasing an id that is not reserved has no effect.
func (p *StreamIDPool) Release(id uint32) {
	p.mu.Lock()
	delete(p.reserved, id)
	p.mu.Unlock()
}

// IsValid reports whether id is currently reserved.
func (p *StreamIDPool) IsValid(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reserved[id]
	return ok
}

func (p *StreamIDPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}

// Clear releases every id.
func (p *StreamIDPool) Clear() {
	p.mu.Lock()
	p.reserved = make(map[uint32]struct{})
	p.mu.Unlock()
}
