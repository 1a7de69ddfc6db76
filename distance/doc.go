// Package distance provides vector similarity scoring.
//
// Every score follows a single convention: higher is better.
//
// # Supported Metrics
//
//   - Cosine: dot product of L2-normalized vectors (queries are normalized,
//     stored vectors are scaled by their cached inverse norm)
//   - Dot: inner product
//   - Euclid: negated Euclidean distance
//
// # Usage
//
//	score := distance.Score(distance.Dot, a, b)
//	q := distance.Preprocess(distance.Cosine, query)
package distance
