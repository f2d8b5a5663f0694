// Package flv reads the one byte FLV tag headers that start the payload of RTMP audio and video
// messages. Layouts follow the FLV file format specification, version 10.1.
package flv

import "github.com/pkg/errors"

var ErrShortTag = errors.New("flv: tag payload too short")

type SoundFormat uint8

const (
	LinearPCMPlatformEndian SoundFormat = 0
	ADPCM                   SoundFormat = 1
	MP3                     SoundFormat = 2
	LinearPCMLittleEndian   SoundFormat = 3
	Nellymoser16KHzMono     SoundFormat = 4
	Nellymoser8KHzMono      SoundFormat = 5
	Nellymoser              SoundFormat = 6
	G711ALaw                SoundFormat = 7
	G711MuLaw               SoundFormat = 8
	AAC                     SoundFormat = 10
	Speex                   SoundFormat = 11
	MP38KHz                 SoundFormat = 14
	DeviceSpecificSound     SoundFormat = 15
)

func (f SoundFormat) String() string {
	switch f {
	case LinearPCMPlatformEndian, LinearPCMLittleEndian:
		return "pcm"
	case ADPCM:
		return "adpcm"
	case MP3, MP38KHz:
		return "mp3"
	case Nellymoser16KHzMono, Nellymoser8KHzMono, Nellymoser:
		return "nellymoser"
	case G711ALaw:
		return "g711a"
	case G711MuLaw:
		return "g711u"
	case AAC:
		return "aac"
	case Speex:
		return "speex"
	}
	return "unknown"
}

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

// Hz returns the sample rate in hertz.
func (r SampleRate) Hz() int {
	return [...]int{5512, 11025, 22050, 44100}[r&0x03]
}

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channels uint8

const (
	Mono   Channels = 0
	Stereo Channels = 1
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

type AudioHeader struct {
	Format     SoundFormat
	SampleRate SampleRate
	SampleSize SampleSize
	Channels   Channels
	// AACPacketType is only set for AAC.
	AACPacketType AACPacketType
}

// ParseAudioHeader decodes the header of an audio message payload.
func ParseAudioHeader(payload []byte) (AudioHeader, error) {
	if len(payload) < 1 {
		return AudioHeader{}, errors.Wrap(ErrShortTag, "audio")
	}
	b := payload[0]
	h := AudioHeader{
		Format:     SoundFormat(b >> 4),
		SampleRate: SampleRate((b >> 2) & 0x03),
		SampleSize: SampleSize((b >> 1) & 0x01),
		Channels:   Channels(b & 0x01),
	}
	if h.Format == AAC {
		if len(payload) < 2 {
			return AudioHeader{}, errors.Wrap(ErrShortTag, "aac packet type")
		}
		h.AACPacketType = AACPacketType(payload[1])
	}
	return h, nil
}

// IsSequenceHeader reports whether the payload carries the AAC decoder configuration.
func (h AudioHeader) IsSequenceHeader() bool {
	return h.Format == AAC && h.AACPacketType == AACSequenceHeader
}
