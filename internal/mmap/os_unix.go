//go:build unix

package mmap

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) (region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return region{}, err
	}
	return region{
		data:    data,
		release: func() error { return unix.Munmap(data) },
	}, nil
}

func advise(data []byte, h Hint) error {
	advice := unix.MADV_NORMAL
	switch h {
	case HintSequential:
		advice = unix.MADV_SEQUENTIAL
	case HintRandom:
		advice = unix.MADV_RANDOM
	}
	err := unix.Madvise(data, advice)
	// Hints are advisory; some kernels reject them for unaligned views.
	if errors.Is(err, unix.EINVAL) {
		return nil
	}
	return err
}
