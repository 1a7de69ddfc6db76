//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapFile(f *os.File, size int) (region, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READONLY, 0, 0, nil)
	if err != nil {
		return region{}, err
	}
	// The view keeps the mapping object alive.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return region{}, err
	}
	return region{
		data:    unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
		release: func() error { return windows.UnmapViewOfFile(addr) },
	}, nil
}

// advise is a no-op: Windows has no madvise equivalent for file views.
func advise([]byte, Hint) error { return nil }
