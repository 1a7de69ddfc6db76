package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
)

var (
	walMagic         = [4]byte{'V', 'S', 'W', '0'}
	walHeaderVersion = uint16(1)
	walHeaderLen     = int64(16)
)

// Header layout: [magic 4][version u16][codec u8][reserved 9]
type walHeaderInfo struct {
	Codec compress.Codec
}

func writeWALHeader(w io.WriterAt, info walHeaderInfo) error {
	var buf [16]byte
	copy(buf[0:4], walMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], walHeaderVersion)
	buf[6] = byte(info.Codec)
	if _, err := w.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return nil
}

func readWALHeader(f fs.File) (walHeaderInfo, error) {
	var buf [16]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return walHeaderInfo{}, fmt.Errorf("%w: short header", ErrCorrupted)
		}
		return walHeaderInfo{}, fmt.Errorf("wal: read header: %w", err)
	}
	if [4]byte(buf[0:4]) != walMagic {
		return walHeaderInfo{}, fmt.Errorf("%w: invalid header magic", ErrCorrupted)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != walHeaderVersion {
		return walHeaderInfo{}, fmt.Errorf("wal: unsupported header version: %d", v)
	}
	codec := compress.Codec(buf[6])
	if codec > compress.ZSTD {
		return walHeaderInfo{}, fmt.Errorf("%w: unknown codec %d", ErrCorrupted, buf[6])
	}
	return walHeaderInfo{Codec: codec}, nil
}
