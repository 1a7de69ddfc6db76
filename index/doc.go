// Package index defines the contracts shared by point indexes.
//
// A PayloadIndex answers which offsets satisfy a filter and estimates how
// many do. An Index answers top-k similarity queries, optionally restricted
// by a filter.
//
// Implementations:
//
//   - plain: payload filtering by scanning every live offset, vector search
//     by pre-filtering and exact scoring. Its results define correctness for
//     every other implementation.
//   - structured: inverted keyword and integer postings plus a numeric value
//     index, used to narrow candidates before the shared checker runs.
//   - hnsw: a navigable small world graph that falls back to the plain
//     pre-filter path for selective filters.
//
// All indexes return results best first, ties broken by ascending offset.
package index
