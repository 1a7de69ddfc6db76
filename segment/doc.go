// Package segment implements the unit of atomic mutation and search.
//
// A segment directory contains:
//
//	config.json       the immutable Config
//	vectors.*         the vector storage (in_memory or mmap)
//	payload.bin       the payload storage
//	ids.bin           the id tracker: id/offset map, free list, versions
//
// Flush writes the storages first and the id tracker last. On open the
// tracker is authoritative: storage entries it does not know are discarded
// and tracked points whose vector is missing are released, so a crash
// between the two writes is repaired by replaying the operation log.
package segment
