// Package amf0 implements the subset of AMF0 used by RTMP command and data messages.
package amf0

import "github.com/pkg/errors"

type ECMAArray map[string]interface{}
type ObjectEnd struct{}

// Undefined is decoded from the undefined marker.
type Undefined struct{}

const (
	TypeNumber      byte = 0x00
	TypeBoolean     byte = 0x01
	TypeString      byte = 0x02
	TypeObject      byte = 0x03
	TypeMovieClip   byte = 0x04 // reserved, not supported
	TypeNull        byte = 0x05
	TypeUndefined   byte = 0x06
	TypeReference   byte = 0x07
	TypeECMAArray   byte = 0x08
	TypeObjectEnd   byte = 0x09
	TypeStrictArray byte = 0x0A
	TypeDate        byte = 0x0B
	TypeLongString  byte = 0x0C
	TypeUnsupported byte = 0x0D
	TypeRecordSet   byte = 0x0E // reserved, not supported
	TypeXMLDocument byte = 0x0F
	TypeTypedObject byte = 0x10
)

// maxDepth bounds object nesting so hostile input cannot exhaust the stack.
const maxDepth = 32

var ErrShortBuffer = errors.New("amf0: buffer too short")
var ErrUnsupportedType = errors.New("amf0: unsupported type")
var ErrTooDeep = errors.New("amf0: objects nested too deeply")
