// Package payload stores structured, multi-valued key/value data attached to points.
//
// # Values
//
// A [Value] is one of a closed set of variants: keywords, integers or floats.
// It always holds a collection; a single assigned scalar is a collection of one.
//
// # Flattening
//
// Generic structured trees (as decoded from JSON) are flattened on assignment:
//
//	{"a": {"b": 1, "c": "x"}}  ->  a__b: Integer[1], a__c: Keyword["x"]
//
// Booleans and strings become keywords, numbers become integers (fractions are
// truncated toward zero), nulls skip the key and arrays are dropped.
// Use [ParseTyped] for the lossless typed interchange instead.
//
// # Storage
//
// [Storage] is the capability set shared by all backends. [MemoryStorage] keeps
// everything in RAM; [PersistentStorage] adds a sealed snapshot file written on Flush.
package payload
