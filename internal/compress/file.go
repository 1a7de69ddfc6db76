package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/internal/hash"
)

const (
	fileHeaderSize = 12
	fileVersion    = uint16(1)
)

// ErrChecksum is returned when a sealed file fails CRC validation.
var ErrChecksum = errors.New("compress: checksum mismatch")

// WriteFile encodes body with codec and atomically replaces path.
func WriteFile(fsys fs.FileSystem, path string, magic [4]byte, codec Codec, body []byte) error {
	if fsys == nil {
		fsys = fs.Default
	}

	block, err := Encode(body, codec)
	if err != nil {
		return err
	}

	hdr := make([]byte, fileHeaderSize)
	copy(hdr[0:4], magic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], fileVersion)
	hdr[6] = byte(codec)
	binary.LittleEndian.PutUint32(hdr[8:12], hash.CRC32C(block))

	return fs.WriteFileAtomic(fsys, path, 0o600, hdr, block)
}

// ReadFile reads and validates a sealed file, returning the decoded body.
// A missing file is reported with an error satisfying errors.Is(err, os.ErrNotExist).
func ReadFile(fsys fs.FileSystem, path string, magic [4]byte) ([]byte, error) {
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) < fileHeaderSize {
		return nil, fmt.Errorf("%s: %w", path, ErrShortBlock)
	}
	if [4]byte(data[0:4]) != magic {
		return nil, fmt.Errorf("%s: invalid magic %q", path, data[0:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != fileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", path, v)
	}
	codec := Codec(data[6])
	block := data[fileHeaderSize:]
	if hash.CRC32C(block) != binary.LittleEndian.Uint32(data[8:12]) {
		return nil, fmt.Errorf("%s: %w", path, ErrChecksum)
	}
	return Decode(block, codec)
}
