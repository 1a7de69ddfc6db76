// Package hash provides the CRC32-Castagnoli checksum shared by the operation
// log records, the sealed segment files and snapshot transfers.
//
//	sum := hash.CRC32C(record)
//
//	h := hash.NewCRC32C()
//	io.Copy(h, blob)
//	header := hash.Base64(h.Sum32()) // x-amz-checksum-crc32c
package hash
