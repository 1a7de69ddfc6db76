package compress

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	compressible := bytes.Repeat([]byte("vecseg payload "), 512)
	random := []byte{0x9a, 0x01, 0xff, 0x42, 0x17}

	for _, codec := range []Codec{None, LZ4, ZSTD} {
		for name, data := range map[string][]byte{"compressible": compressible, "small": random, "empty": {}} {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				block, err := Encode(data, codec)
				require.NoError(t, err)

				out, err := Decode(block, codec)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(out))
				assert.True(t, bytes.Equal(data, out))
			})
		}
	}
}

func TestEncodeShrinks(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 64*1024)
	block, err := Encode(data, LZ4)
	require.NoError(t, err)
	assert.Less(t, len(block), len(data)/2)
}

func TestDecodeShortBlock(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, LZ4)
	assert.ErrorIs(t, err, ErrShortBlock)
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, ZSTD, c)

	_, err = ParseCodec("snappy")
	assert.Error(t, err)
}

func TestSealedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	magic := [4]byte{'T', 'E', 'S', 'T'}
	body := bytes.Repeat([]byte("abc"), 1000)

	require.NoError(t, WriteFile(nil, path, magic, LZ4, body))

	got, err := ReadFile(nil, path, magic)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	t.Run("WrongMagic", func(t *testing.T) {
		_, err := ReadFile(nil, path, [4]byte{'N', 'O', 'P', 'E'})
		assert.Error(t, err)
	})

	t.Run("Corrupted", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		_, err = ReadFile(nil, path, magic)
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := ReadFile(nil, filepath.Join(dir, "missing.bin"), magic)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestWriteFileFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	magic := [4]byte{'T', 'E', 'S', 'T'}

	require.NoError(t, WriteFile(nil, path, magic, None, []byte("v1")))

	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("data.bin.tmp", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	err := WriteFile(faulty, path, magic, None, []byte("v2"))
	require.Error(t, err)

	got, err := ReadFile(nil, path, magic)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got, "failed write must leave the previous file intact")
}

func TestStream(t *testing.T) {
	data := bytes.Repeat([]byte("stream me "), 10_000)

	for _, codec := range []Codec{None, LZ4, ZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, codec)
			require.NoError(t, err)
			_, err = w.Write(data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if codec != None {
				assert.Less(t, buf.Len(), len(data))
			}

			r, err := NewReader(&buf, codec)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, data, got)
		})
	}

	_, err := NewWriter(io.Discard, Codec(9))
	assert.Error(t, err)
}

func TestCodecText(t *testing.T) {
	for _, codec := range []Codec{None, LZ4, ZSTD} {
		text, err := codec.MarshalText()
		require.NoError(t, err)
		var got Codec
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, codec, got)
	}
	var c Codec
	assert.Error(t, c.UnmarshalText([]byte("snappy")))
}
