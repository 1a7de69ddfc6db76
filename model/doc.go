// Package model defines core types used throughout vecseg.
//
// # Identity Types
//
//   - PointID: user-supplied, stable external identifier (uint64)
//   - PointOffset: dense, segment-local index into vector storage (uint32)
//   - Version: operation number used for idempotent application (uint64)
//
// A PointOffset is transient: it is released to a free-list when its point is
// deleted and may be handed to a different point later.
package model
