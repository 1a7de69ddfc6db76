// Package vectorstore holds the dense vectors of a segment, addressed by
// internal point offset.
//
// Two storage types share one contract:
//
//   - in_memory: a columnar []float32 slab, persisted as a sealed snapshot
//     file on Flush
//   - mmap: fixed-width records written to a file and read back through a
//     shared memory mapping; only the header and the deleted set are written
//     on Flush
//
// Vectors are stored exactly as given, so a read returns the written values.
// For the Cosine metric the inverse L2 norm of every vector is cached and
// applied at scoring time, which makes scores identical to comparing
// normalized vectors.
//
// Offsets never written, or deleted, are skipped by every scoring method.
// Scoring results are ordered best first with ties broken by ascending
// offset.
package vectorstore
