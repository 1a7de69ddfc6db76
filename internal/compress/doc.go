// Package compress provides the block codec and the sealed file envelope used
// by the on-disk formats of payload storage, vector storage and the id tracker.
//
// A block is [UncompressedSize uint32][CompressedSize uint32][Data...]; a
// CompressedSize of 0 marks data stored raw because compression did not help.
//
// A sealed file is [Magic 4][Version u16][Codec u8][Reserved u8][CRC32C u32][Block].
// Files are written to a temporary name, synced and renamed into place.
package compress
