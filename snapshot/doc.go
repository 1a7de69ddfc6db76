// Package snapshot copies a flushed segment to a blob store and back.
//
// A snapshot is a set of blobs under snapshots/<id>/, one per segment file,
// each compressed with the configured codec, plus a MANIFEST listing the
// files with their uncompressed sizes and CRC32C checksums. Create writes
// the MANIFEST after every file was uploaded and then points the CURRENT
// blob at the new id, so a reader following CURRENT never sees a partial
// snapshot. With blobstore/s3.DDBCommitStore the CURRENT update is a
// conditional write and concurrent writers cannot overwrite each other.
//
// Transfers run in parallel, are retried with Fibonacci backoff and can be
// throttled by a shared resource.Controller.
package snapshot
