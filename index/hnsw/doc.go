// Package hnsw implements a Hierarchical Navigable Small World graph index.
//
// The graph holds offsets only; vectors are read from the segment's vector
// storage on demand, so scores reported by a search are the exact storage
// scores. Node levels are derived from a hash of the offset, which makes a
// rebuild over the same data produce the same graph.
//
// # Filtering
//
// For a filtered search the index first asks the payload index for a
// cardinality estimate. When the upper bound is below FullScanThreshold the
// query takes the exact pre-filter path of the plain index. Otherwise the graph
// is traversed with the filter as an acceptance predicate: every node is
// visited for navigation, but only accepted nodes enter the result set.
//
// # Updates
//
// New offsets are inserted into the graph as they are written. An offset whose
// vector changes after it was linked becomes stale: the graph keeps using it
// for navigation, but its score is computed exactly from storage alongside the
// graph results. Build relinks every live offset and clears the stale set.
package hnsw
