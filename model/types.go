package model

import (
	"fmt"
	"math"
)

// PointID is the user-facing stable identifier of a point.
type PointID uint64

// PointOffset is a dense, segment-local index of a point in vector storage.
type PointOffset uint32

// Version is the operation number carried by every mutation.
type Version uint64

// BypassVersion disables the per-point staleness check.
//
// Operations carrying it are applied unconditionally and do not record a
// version marker. It exists for trusted bulk-load paths only.
const BypassVersion Version = math.MaxUint64

// AutoVersion asks the writer to assign the next version after every
// version seen so far. Zero is not a valid version.
const AutoVersion Version = math.MaxUint64 - 1

// IsBypass reports whether v is the bulk-load bypass sentinel.
func (v Version) IsBypass() bool { return v == BypassVersion }

// IsAuto reports whether v asks for an assigned version.
func (v Version) IsAuto() bool { return v == AutoVersion }

// ScoredOffset is a search hit addressed by internal offset.
type ScoredOffset struct {
	Offset PointOffset
	Score  float32
}

// ScoredPoint is a search hit addressed by external id.
type ScoredPoint struct {
	ID    PointID `json:"id"`
	Score float32 `json:"score"`
}

// String returns a string representation of the hit.
func (p ScoredPoint) String() string {
	return fmt.Sprintf("Point(%d: %.6f)", p.ID, p.Score)
}
