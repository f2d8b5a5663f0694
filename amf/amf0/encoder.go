package amf0

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Encode returns the AMF0 representation of v.
// Supported types: float64 and the Go integer types (as Number), bool, string, nil, Undefined,
// map[string]interface{} (as Object), ECMAArray, []interface{} (as Strict Array) and time.Time.
func Encode(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encode(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeAll encodes every value in order, as found in the body of a command message.
func EncodeAll(values ...interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	for _, v := range values {
		if err := encode(buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch v := v.(type) {
	case float64:
		encodeNumber(buf, v)
	case float32:
		encodeNumber(buf, float64(v))
	case int:
		encodeNumber(buf, float64(v))
	case int32:
		encodeNumber(buf, float64(v))
	case int64:
		encodeNumber(buf, float64(v))
	case uint32:
		encodeNumber(buf, float64(v))
	case uint64:
		encodeNumber(buf, float64(v))
	case bool:
		buf.WriteByte(TypeBoolean)
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case string:
		encodeString(buf, v)
	case nil:
		buf.WriteByte(TypeNull)
	case Undefined:
		buf.WriteByte(TypeUndefined)
	case map[string]interface{}:
		buf.WriteByte(TypeObject)
		return encodeProperties(buf, v)
	case ECMAArray:
		buf.WriteByte(TypeECMAArray)
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(v)))
		buf.Write(count[:])
		return encodeProperties(buf, v)
	case []interface{}:
		buf.WriteByte(TypeStrictArray)
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(v)))
		buf.Write(count[:])
		for _, e := range v {
			if err := encode(buf, e); err != nil {
				return err
			}
		}
	case time.Time:
		buf.WriteByte(TypeDate)
		var date [10]byte
		binary.BigEndian.PutUint64(date[:], math.Float64bits(float64(v.UnixNano()/int64(time.Millisecond))))
		// the last 2 bytes are the time zone, which must be 0
		buf.Write(date[:])
	default:
		return errors.Wrapf(ErrUnsupportedType, "cannot encode type %T", v)
	}
	return nil
}

// Keys are written in sorted order so the output is deterministic.
func encodeProperties(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(k) > math.MaxUint16 {
			return errors.Errorf("amf0: property name of %d bytes is too long", len(k))
		}
		// property names are strings without the type marker
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(k)))
		buf.Write(length[:])
		buf.WriteString(k)
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.Write([]byte{0x00, 0x00, TypeObjectEnd})
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	// Strings longer than 65535 bytes need the long string type with a 4 byte length
	if len(s) <= math.MaxUint16 {
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(s)))
		buf.WriteByte(TypeString)
		buf.Write(length[:])
	} else {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(s)))
		buf.WriteByte(TypeLongString)
		buf.Write(length[:])
	}
	buf.WriteString(s)
}

func encodeNumber(buf *bytes.Buffer, number float64) {
	var b [9]byte
	b[0] = TypeNumber
	binary.BigEndian.PutUint64(b[1:], math.Float64bits(number))
	buf.Write(b[:])
}
