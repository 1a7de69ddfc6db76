// Package vecseg provides a durable, embeddable vector segment for Go.
//
// A segment stores fixed-dimension vectors together with structured payload
// and answers nearest-neighbor queries that may be restricted by a boolean
// filter over payload fields.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := vecseg.Open(ctx, "./data", vecseg.Create(segment.Config{
//	    VectorSize: 4,
//	    Distance:   distance.Dot,
//	}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
//	db.SetPayloadJSON(ctx, 2, 1, []byte(`{"color": "red"}`))
//
//	hits, _ := db.Search(ctx, []float32{1, 0, 0, 0}, 10,
//	    vecseg.WithFilterJSON([]byte(`{"must": [{"key": "color", "match": {"keyword": "red"}}]}`)))
//
// # Versions
//
// Every mutation carries a version. The segment remembers the last version
// applied to each point, deleted points included. A mutation that is not
// newer is a successful no-op: Result.Applied is false and the error is nil.
// Zero is not a valid version; model.AutoVersion asks the DB to assign the
// next one.
//
// # Durability
//
// Mutations are appended to the operation log before they are applied, and
// the log is replayed when the segment is opened. Replay is idempotent, so a
// crash at any point recovers to the state of the last logged mutation.
// Flush persists the segment files and truncates the log.
//
// # Snapshots
//
// Snapshot copies the flushed segment files into a blobstore.BlobStore
// (local directory, S3, S3 with DynamoDB commits, or MinIO) and commits the
// snapshot as CURRENT. Restore downloads a snapshot into an empty directory
// and opens it:
//
//	store := blobstore.NewLocalStore("./snapshots")
//	m, err := db.Snapshot(ctx, store)
//	...
//	restored, err := vecseg.Restore(ctx, store, m.ID, "./restored")
//
// # Index Selection
//
//   - plain: exact scoring of every point or of the filtered candidates.
//   - hnsw: graph search with m / ef_construct tunables; filters whose
//     estimated cardinality is below full_scan_threshold are answered exactly.
//
// The struct payload index keeps inverted indexes per field and answers
// filters without scanning every payload.
package vecseg
