package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vecseg/operation"
)

// Replay calls fn for every record in log order. A record that cannot be
// decoded aborts replay with ErrCorrupted; an error from fn aborts replay
// and is returned wrapped with the record position.
func (w *WAL) Replay(fn func(op operation.Operation) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}

	r := bufio.NewReader(io.NewSectionReader(w.file, walHeaderLen, w.size-walHeaderLen))
	for i := 0; ; i++ {
		var op operation.Operation
		if _, err := decodeRecord(r, w.codec, &op); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w (record %d)", err, i)
		}
		if err := fn(op); err != nil {
			return fmt.Errorf("wal: replay record %d (%s): %w", i, op, err)
		}
	}
}
