package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Decode decodes the first value in b and returns it with the number of bytes it used.
// Numbers are returned as float64, objects as map[string]interface{}, ECMA arrays as ECMAArray,
// strict arrays as []interface{} and dates as time.Time.
func Decode(b []byte) (interface{}, int, error) {
	d := decoder{buf: b}
	v, err := d.value(0)
	if err != nil {
		return nil, 0, err
	}
	return v, d.off, nil
}

// DecodeAll decodes every value in b.
func DecodeAll(b []byte) ([]interface{}, error) {
	d := decoder{buf: b}
	var values []interface{}
	for d.off < len(d.buf) {
		v, err := d.value(0)
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) next(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) value(depth int) (interface{}, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	marker, err := d.next(1)
	if err != nil {
		return nil, err
	}
	switch marker[0] {
	case TypeNumber:
		b, err := d.next(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case TypeBoolean:
		b, err := d.next(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case TypeString:
		return d.string16()
	case TypeLongString:
		b, err := d.next(4)
		if err != nil {
			return nil, err
		}
		s, err := d.next(int(binary.BigEndian.Uint32(b)))
		if err != nil {
			return nil, err
		}
		return string(s), nil
	case TypeNull:
		return nil, nil
	case TypeUndefined:
		return Undefined{}, nil
	case TypeObject:
		return d.properties(depth)
	case TypeECMAArray:
		// The associative count is only a hint, the array ends with an object end marker like an object.
		if _, err := d.next(4); err != nil {
			return nil, err
		}
		m, err := d.properties(depth)
		if err != nil {
			return nil, err
		}
		return ECMAArray(m), nil
	case TypeStrictArray:
		b, err := d.next(4)
		if err != nil {
			return nil, err
		}
		count := int(binary.BigEndian.Uint32(b))
		// every element takes at least one byte
		if count > len(d.buf)-d.off {
			return nil, ErrShortBuffer
		}
		array := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			v, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			array = append(array, v)
		}
		return array, nil
	case TypeDate:
		b, err := d.next(10)
		if err != nil {
			return nil, err
		}
		milliseconds := int64(math.Float64frombits(binary.BigEndian.Uint64(b)))
		return time.Unix(0, milliseconds*int64(time.Millisecond)), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "cannot decode type marker %#02x", marker[0])
	}
}

func (d *decoder) string16() (string, error) {
	b, err := d.next(2)
	if err != nil {
		return "", err
	}
	s, err := d.next(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (d *decoder) properties(depth int) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	for {
		key, err := d.string16()
		if err != nil {
			return nil, err
		}
		if key == "" {
			end, err := d.next(1)
			if err != nil {
				return nil, err
			}
			if end[0] == TypeObjectEnd {
				return m, nil
			}
			// an empty property name followed by a value
			d.off--
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
}
