package flv

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/internal/binary24"
)

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// video info or command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
)

func (c Codec) String() string {
	switch c {
	case SorensonH263:
		return "h263"
	case ScreenVideo, ScreenVideoV2:
		return "screen"
	case VP6, VP6AlphaChannel:
		return "vp6"
	case H264:
		return "h264"
	}
	return "unknown"
}

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

type VideoHeader struct {
	FrameType FrameType
	Codec     Codec
	// AVCPacketType and CompositionTime are only set for H264.
	AVCPacketType   AVCPacketType
	CompositionTime int32
}

// ParseVideoHeader decodes the header of a video message payload.
func ParseVideoHeader(payload []byte) (VideoHeader, error) {
	if len(payload) < 1 {
		return VideoHeader{}, errors.Wrap(ErrShortTag, "video")
	}
	h := VideoHeader{
		FrameType: FrameType(payload[0] >> 4),
		Codec:     Codec(payload[0] & 0x0F),
	}
	if h.Codec == H264 {
		if len(payload) < 5 {
			return VideoHeader{}, errors.Wrap(ErrShortTag, "avc packet header")
		}
		h.AVCPacketType = AVCPacketType(payload[1])
		h.CompositionTime = binary24.BigEndian.Int24(payload[2:5])
	}
	return h, nil
}

func (h VideoHeader) IsKeyFrame() bool {
	return h.FrameType == KeyFrame
}

// IsSequenceHeader reports whether the payload carries the AVC decoder configuration.
func (h VideoHeader) IsSequenceHeader() bool {
	return h.Codec == H264 && h.AVCPacketType == AVCSequenceHeader
}
