package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/hash"
	"github.com/hupe1980/vecseg/operation"
)

// maxRecordLen bounds a single framed record.
const maxRecordLen = 64 << 20

// encodeRecord frames op as [CRC32C u32][Len u32][Body], where Body is the
// operation encoding, compressed unless codec is None, and the checksum
// covers Body.
func encodeRecord(buf []byte, op operation.Operation, codec compress.Codec) ([]byte, error) {
	raw, err := op.MarshalBinary()
	if err != nil {
		return nil, err
	}
	body := raw
	if codec != compress.None {
		if body, err = compress.Encode(raw, codec); err != nil {
			return nil, err
		}
	}
	if len(body) > maxRecordLen {
		return nil, fmt.Errorf("wal: record of %d bytes exceeds limit", len(body))
	}
	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32C(body))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body))) //nolint:gosec
	return append(buf, body...), nil
}

// decodeRecord reads one record. It returns io.EOF only at a clean record
// boundary; anything else that cannot be decoded is ErrCorrupted.
func decodeRecord(r io.Reader, codec compress.Codec, op *operation.Operation) (int, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("%w: torn record header", ErrCorrupted)
	}
	crc := binary.LittleEndian.Uint32(hdr[0:4])
	n := binary.LittleEndian.Uint32(hdr[4:8])
	if n > maxRecordLen {
		return 0, fmt.Errorf("%w: record length %d", ErrCorrupted, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, fmt.Errorf("%w: torn record body", ErrCorrupted)
	}
	if hash.CRC32C(body) != crc {
		return 0, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	raw := body
	if codec != compress.None {
		var err error
		if raw, err = compress.Decode(body, codec); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCorrupted, err)
		}
	}
	if err := op.UnmarshalBinary(raw); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return len(hdr) + int(n), nil
}
