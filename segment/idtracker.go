package segment

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecseg/model"
)

// IDsFileName is the sealed file holding the id tracker.
const IDsFileName = "ids.bin"

var idsMagic = [4]byte{'V', 'S', 'I', 'D'}

var errTrackerFull = errors.New("segment: offset space exhausted")

// IDTracker maps external point ids to offsets, recycles released offsets
// and remembers the last applied version of every point it has seen,
// including deleted ones.
//
// It is not safe for concurrent use; the segment lock guards it.
type IDTracker struct {
	ids      map[model.PointID]model.PointOffset
	offsets  []model.PointID // offset -> id, valid where live is set
	live     *bitset.BitSet
	free     []model.PointOffset // LIFO
	versions map[model.PointID]model.Version
	next     model.PointOffset
}

// NewIDTracker creates an empty tracker.
func NewIDTracker() *IDTracker {
	return &IDTracker{
		ids:      make(map[model.PointID]model.PointOffset),
		live:     bitset.New(0),
		versions: make(map[model.PointID]model.Version),
	}
}

// Lookup returns the offset of a live point.
func (t *IDTracker) Lookup(id model.PointID) (model.PointOffset, bool) {
	off, ok := t.ids[id]
	return off, ok
}

// ExternalID returns the id of the live point at offset.
func (t *IDTracker) ExternalID(off model.PointOffset) (model.PointID, bool) {
	if !t.live.Test(uint(off)) {
		return 0, false
	}
	return t.offsets[off], true
}

// Allocate assigns an offset to id, reusing the most recently released one.
// The caller must have checked that id is not live.
func (t *IDTracker) Allocate(id model.PointID) (model.PointOffset, error) {
	var off model.PointOffset
	if n := len(t.free); n > 0 {
		off = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if t.next == math.MaxUint32 {
			return 0, errTrackerFull
		}
		off = t.next
		t.next++
		t.offsets = append(t.offsets, 0)
	}
	t.offsets[off] = id
	t.live.Set(uint(off))
	t.ids[id] = off
	return off, nil
}

// Release forgets the id mapping and returns its offset to the free list.
// The version of id is kept.
func (t *IDTracker) Release(id model.PointID) (model.PointOffset, bool) {
	off, ok := t.ids[id]
	if !ok {
		return 0, false
	}
	delete(t.ids, id)
	t.live.Clear(uint(off))
	t.offsets[off] = 0
	t.free = append(t.free, off)
	return off, true
}

// Version returns the last applied version of id, deleted points included.
func (t *IDTracker) Version(id model.PointID) (model.Version, bool) {
	v, ok := t.versions[id]
	return v, ok
}

// SetVersion records v for id. The bypass version is never recorded.
func (t *IDTracker) SetVersion(id model.PointID, v model.Version) {
	if v.IsBypass() {
		return
	}
	t.versions[id] = v
}

// Fresh reports whether an operation at version v may touch id.
func (t *IDTracker) Fresh(id model.PointID, v model.Version) bool {
	if v.IsBypass() {
		return true
	}
	cur, ok := t.versions[id]
	return !ok || v > cur
}

// Len returns the number of live points.
func (t *IDTracker) Len() int { return len(t.ids) }

// Cap returns the number of offsets ever handed out.
func (t *IDTracker) Cap() int { return int(t.next) }

// IsLive reports whether offset belongs to a live point.
func (t *IDTracker) IsLive(off model.PointOffset) bool { return t.live.Test(uint(off)) }

// MaxVersion returns the highest recorded version.
func (t *IDTracker) MaxVersion() model.Version {
	var top model.Version
	for _, v := range t.versions {
		top = max(top, v)
	}
	return top
}

// IDs returns the live ids in ascending order.
func (t *IDTracker) IDs() []model.PointID {
	return slices.Sorted(maps.Keys(t.ids))
}

// Save writes the tracker to w.
// Format: [Next u32] [Live u64] [ID u64, Offset u32]... [Free u32] [Offset u32]...
// [Versions u64] [ID u64, Version u64]...
func (t *IDTracker) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	if err := binary.Write(bw, le, uint32(t.next)); err != nil {
		return err
	}
	if err := binary.Write(bw, le, uint64(len(t.ids))); err != nil {
		return err
	}
	buf := make([]byte, 12)
	for _, id := range t.IDs() {
		le.PutUint64(buf[0:], uint64(id))
		le.PutUint32(buf[8:], uint32(t.ids[id]))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, le, uint32(len(t.free))); err != nil { //nolint:gosec
		return err
	}
	for _, off := range t.free {
		if err := binary.Write(bw, le, uint32(off)); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, le, uint64(len(t.versions))); err != nil {
		return err
	}
	buf = make([]byte, 16)
	for _, id := range slices.Sorted(maps.Keys(t.versions)) {
		le.PutUint64(buf[0:], uint64(id))
		le.PutUint64(buf[8:], uint64(t.versions[id]))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load replaces the tracker state with the contents of r.
func (t *IDTracker) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	le := binary.LittleEndian
	fresh := NewIDTracker()

	var next uint32
	if err := binary.Read(br, le, &next); err != nil {
		return err
	}
	fresh.next = model.PointOffset(next)
	fresh.offsets = make([]model.PointID, next)

	var count uint64
	if err := binary.Read(br, le, &count); err != nil {
		return err
	}
	if count > uint64(next) {
		return fmt.Errorf("segment: %d live ids exceed %d offsets", count, next)
	}
	buf := make([]byte, 12)
	for range count {
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		id := model.PointID(le.Uint64(buf[0:]))
		off := model.PointOffset(le.Uint32(buf[8:]))
		if off >= fresh.next || fresh.live.Test(uint(off)) {
			return fmt.Errorf("segment: invalid offset %d for point %d", off, id)
		}
		fresh.ids[id] = off
		fresh.offsets[off] = id
		fresh.live.Set(uint(off))
	}

	var nfree uint32
	if err := binary.Read(br, le, &nfree); err != nil {
		return err
	}
	for range nfree {
		var off uint32
		if err := binary.Read(br, le, &off); err != nil {
			return err
		}
		if model.PointOffset(off) >= fresh.next || fresh.live.Test(uint(off)) {
			return fmt.Errorf("segment: invalid free offset %d", off)
		}
		fresh.free = append(fresh.free, model.PointOffset(off))
	}

	if err := binary.Read(br, le, &count); err != nil {
		return err
	}
	buf = make([]byte, 16)
	for range count {
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		fresh.versions[model.PointID(le.Uint64(buf[0:]))] = model.Version(le.Uint64(buf[8:]))
	}

	*t = *fresh
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t *IDTracker) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *IDTracker) UnmarshalBinary(data []byte) error {
	return t.Load(bytes.NewReader(data))
}
