package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec defines the compression algorithm used for a block.
type Codec uint8

const (
	// None stores blocks uncompressed.
	None Codec = 0
	// LZ4 is fast block compression, used for hot local files.
	LZ4 Codec = 1
	// ZSTD trades speed for ratio, used for snapshots.
	ZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("unknown codec %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Codec) MarshalText() ([]byte, error) {
	switch c {
	case None, LZ4, ZSTD:
		return []byte(c.String()), nil
	default:
		return nil, fmt.Errorf("compress: unsupported codec %d", uint8(c))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Codec) UnmarshalText(text []byte) error {
	v, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var (
	// ErrShortBlock is returned when a block is truncated.
	ErrShortBlock = errors.New("compress: short block")
	// ErrSizeMismatch is returned when a block decodes to an unexpected length.
	ErrSizeMismatch = errors.New("compress: decompressed size mismatch")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

const blockHeaderSize = 8

// Encode compresses data into a single block.
// Data that does not shrink below 90% is stored raw.
func Encode(data []byte, codec Codec) ([]byte, error) {
	var compressed []byte

	switch codec {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unsupported codec %v", codec)
	}

	raw := len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9
	body := compressed
	if raw {
		body = data
	}

	out := make([]byte, blockHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data))) //nolint:gosec
	if !raw {
		binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed))) //nolint:gosec
	}
	copy(out[blockHeaderSize:], body)
	return out, nil
}

// Decode reverses Encode.
func Decode(block []byte, codec Codec) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, ErrShortBlock
	}

	size := binary.LittleEndian.Uint32(block[0:])
	csize := binary.LittleEndian.Uint32(block[4:])
	body := block[blockHeaderSize:]

	if csize == 0 {
		if uint64(len(body)) < uint64(size) {
			return nil, ErrShortBlock
		}
		return body[:size], nil
	}
	if uint64(len(body)) < uint64(csize) {
		return nil, ErrShortBlock
	}
	body = body[:csize]

	switch codec {
	case LZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size { //nolint:gosec
			return nil, ErrSizeMismatch
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != size { //nolint:gosec
			return nil, ErrSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unsupported codec %v", codec)
	}
}
