// Package fs abstracts the file operations of a segment directory so tests
// can inject I/O failures.
//
// [LocalFS] is the production implementation. [FaultyFS] wraps another
// FileSystem and fails writes, syncs, closes or renames of files whose names
// contain a rule pattern:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("payload.bin", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
//
// [WriteFileAtomic] is the temp-file-and-rename write every sealed segment
// file goes through.
package fs
