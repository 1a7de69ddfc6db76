// Package operation defines the versioned mutations shared by the operation
// log, the update handler and the segment.
package operation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
)

// ErrInvalid is returned for malformed operations and encodings.
var ErrInvalid = errors.New("operation: invalid")

// Kind identifies a mutation.
type Kind uint8

const (
	KindUpsert Kind = iota + 1
	KindSetPayload
	KindDeletePayloadKey
	KindClearPayload
	KindDeletePoint
	KindWipePayload
)

func (k Kind) String() string {
	switch k {
	case KindUpsert:
		return "upsert"
	case KindSetPayload:
		return "set_payload"
	case KindDeletePayloadKey:
		return "delete_payload_key"
	case KindClearPayload:
		return "clear_payload"
	case KindDeletePoint:
		return "delete_point"
	case KindWipePayload:
		return "wipe_payload"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Operation is a versioned mutation of one point, or of every point for
// KindWipePayload.
type Operation struct {
	Kind    Kind
	Version model.Version
	PointID model.PointID
	Vector  []float32
	Payload payload.Payload
	Key     string
}

func Upsert(id model.PointID, vector []float32) Operation {
	return Operation{Kind: KindUpsert, PointID: id, Vector: vector}
}

func SetPayload(id model.PointID, p payload.Payload) Operation {
	return Operation{Kind: KindSetPayload, PointID: id, Payload: p}
}

func DeletePayloadKey(id model.PointID, key string) Operation {
	return Operation{Kind: KindDeletePayloadKey, PointID: id, Key: key}
}

func ClearPayload(id model.PointID) Operation {
	return Operation{Kind: KindClearPayload, PointID: id}
}

func DeletePoint(id model.PointID) Operation {
	return Operation{Kind: KindDeletePoint, PointID: id}
}

func WipePayload() Operation {
	return Operation{Kind: KindWipePayload}
}

// WithVersion returns a copy of op carrying v.
func (op Operation) WithVersion(v model.Version) Operation {
	op.Version = v
	return op
}

// Validate checks that the fields required by the kind are present.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindUpsert:
		if len(op.Vector) == 0 {
			return fmt.Errorf("%w: upsert without vector", ErrInvalid)
		}
	case KindDeletePayloadKey:
		if op.Key == "" {
			return fmt.Errorf("%w: delete_payload_key without key", ErrInvalid)
		}
	case KindSetPayload, KindClearPayload, KindDeletePoint, KindWipePayload:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalid, uint8(op.Kind))
	}
	return nil
}

func (op Operation) String() string {
	if op.Kind == KindWipePayload {
		return fmt.Sprintf("%s@%d", op.Kind, op.Version)
	}
	return fmt.Sprintf("%s(%d)@%d", op.Kind, op.PointID, op.Version)
}

// MarshalBinary encodes op as
//
//	[kind u8][version uvarint][point id uvarint][body]
//
// where body is the vector (count uvarint + float32 LE values) for upserts,
// the payload binary encoding for set_payload and the key (length uvarint +
// bytes) for delete_payload_key.
func (op Operation) MarshalBinary() ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 24+4*len(op.Vector)+len(op.Key))
	buf = append(buf, byte(op.Kind))
	buf = binary.AppendUvarint(buf, uint64(op.Version))
	buf = binary.AppendUvarint(buf, uint64(op.PointID))

	switch op.Kind {
	case KindUpsert:
		buf = binary.AppendUvarint(buf, uint64(len(op.Vector)))
		for _, f := range op.Vector {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	case KindSetPayload:
		return op.Payload.AppendBinary(buf)
	case KindDeletePayloadKey:
		buf = binary.AppendUvarint(buf, uint64(len(op.Key)))
		buf = append(buf, op.Key...)
	}
	return buf, nil
}

// UnmarshalBinary decodes an operation written by MarshalBinary.
// Trailing bytes are rejected.
func (op *Operation) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty record", ErrInvalid)
	}
	out := Operation{Kind: Kind(data[0])}
	data = data[1:]

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return fmt.Errorf("%w: bad version", ErrInvalid)
	}
	out.Version = model.Version(v)
	data = data[n:]

	id, n := binary.Uvarint(data)
	if n <= 0 {
		return fmt.Errorf("%w: bad point id", ErrInvalid)
	}
	out.PointID = model.PointID(id)
	data = data[n:]

	switch out.Kind {
	case KindUpsert:
		dim, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) != 4*dim {
			return fmt.Errorf("%w: bad vector", ErrInvalid)
		}
		data = data[n:]
		out.Vector = make([]float32, dim)
		for i := range out.Vector {
			out.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		data = nil
	case KindSetPayload:
		if err := out.Payload.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("%w: payload: %w", ErrInvalid, err)
		}
		data = nil
	case KindDeletePayloadKey:
		l, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) != l {
			return fmt.Errorf("%w: bad key", ErrInvalid)
		}
		out.Key = string(data[n:])
		data = nil
	}
	if len(data) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalid, len(data))
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*op = out
	return nil
}
