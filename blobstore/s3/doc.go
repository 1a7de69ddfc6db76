// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("segments/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	info, err := db.Snapshot(ctx, store)
//
// Several writers sharing one prefix should commit through DDBCommitStore,
// which serializes updates of the CURRENT pointer with DynamoDB.
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for streaming writes
//   - CRC32C checksums on single request uploads
//   - Configurable prefix for multi-tenant isolation
package s3
