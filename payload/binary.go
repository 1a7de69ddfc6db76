package payload

import (
	"encoding/binary"
	"errors"
	"math"
)

var errShortBuffer = errors.New("payload: short buffer")

// MarshalBinary implements encoding.BinaryMarshaler.
// Keys are written in sorted order so equal payloads encode identically.
func (p Payload) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, 8+len(p)*16))
}

// AppendBinary appends the binary encoding of p to buf.
func (p Payload) AppendBinary(buf []byte) ([]byte, error) {
	buf = binary.AppendUvarint(buf, uint64(len(p)))
	for _, k := range p.Keys() {
		buf = appendString(buf, k)
		var err error
		if buf, err = appendValue(buf, p[k]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Payload) UnmarshalBinary(data []byte) error {
	out, _, err := parsePayload(data)
	if err != nil {
		return err
	}
	*p = out
	return nil
}

func parsePayload(data []byte) (Payload, []byte, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errors.New("payload: invalid length")
	}
	data = data[n:]

	out := make(Payload, min(count, 1024))
	for range count {
		key, rest, err := parseString(data)
		if err != nil {
			return nil, nil, err
		}
		val, rest, err := parseValue(rest)
		if err != nil {
			return nil, nil, err
		}
		out[key] = val
		data = rest
	}
	return out, data, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func parseString(data []byte) (string, []byte, error) {
	l, n := binary.Uvarint(data)
	if n <= 0 {
		return "", nil, errShortBuffer
	}
	data = data[n:]
	if uint64(len(data)) < l {
		return "", nil, errShortBuffer
	}
	return string(data[:l]), data[l:], nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Kind))
	buf = binary.AppendUvarint(buf, uint64(v.Len()))
	switch v.Kind {
	case KindKeyword:
		for _, s := range v.Keywords {
			buf = appendString(buf, s)
		}
	case KindInteger:
		for _, i := range v.Integers {
			buf = binary.AppendVarint(buf, i)
		}
	case KindFloat:
		for _, f := range v.Floats {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
		}
	default:
		return nil, typeMismatch("", "keyword, integer or float", nil)
	}
	return buf, nil
}

func parseValue(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return Value{}, nil, errShortBuffer
	}
	v := Value{Kind: Kind(data[0])}
	data = data[1:]

	count, n := binary.Uvarint(data)
	if n <= 0 {
		return Value{}, nil, errShortBuffer
	}
	data = data[n:]

	switch v.Kind {
	case KindKeyword:
		v.Keywords = make([]string, 0, min(count, 1024))
		for range count {
			s, rest, err := parseString(data)
			if err != nil {
				return Value{}, nil, err
			}
			v.Keywords = append(v.Keywords, s)
			data = rest
		}
	case KindInteger:
		v.Integers = make([]int64, 0, min(count, 1024))
		for range count {
			i, n := binary.Varint(data)
			if n <= 0 {
				return Value{}, nil, errShortBuffer
			}
			v.Integers = append(v.Integers, i)
			data = data[n:]
		}
	case KindFloat:
		if uint64(len(data)) < count*8 {
			return Value{}, nil, errShortBuffer
		}
		v.Floats = make([]float64, count)
		for i := range v.Floats {
			v.Floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(data))
			data = data[8:]
		}
	default:
		return Value{}, nil, errors.New("payload: unknown value kind")
	}
	return v, data, nil
}
