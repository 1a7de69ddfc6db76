package distance

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Metric represents the similarity metric used for vector comparison.
type Metric int

const (
	Cosine Metric = iota
	Dot
	Euclid
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "Cosine"
	case Dot:
		return "Dot"
	case Euclid:
		return "Euclid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// ParseMetric parses a metric name (case-insensitive).
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "cosine":
		return Cosine, nil
	case "dot":
		return Dot, nil
	case "euclid", "euclidean", "l2":
		return Euclid, nil
	default:
		return 0, fmt.Errorf("unsupported metric: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if m < Cosine || m > Euclid {
		return nil, fmt.Errorf("unsupported metric: %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(b []byte) error {
	v, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Func scores two vectors of equal length. Higher is better.
type Func func(a, b []float32) float32

// Provider returns the scoring function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case Cosine, Dot:
		return DotProduct, nil
	case Euclid:
		return NegEuclid, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Score computes the similarity of a and b under m.
// Cosine assumes both inputs were passed through Preprocess.
func Score(m Metric, a, b []float32) float32 {
	if m == Euclid {
		return NegEuclid(a, b)
	}
	return DotProduct(a, b)
}

// Preprocess returns the representation of v stored and compared under m.
// For Cosine it returns a normalized copy; otherwise v itself.
func Preprocess(m Metric, v []float32) []float32 {
	if m != Cosine {
		return v
	}
	out, ok := NormalizeL2Copy(v)
	if !ok {
		return slices.Clone(v)
	}
	return out
}

// DotProduct calculates the inner product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func DotProduct(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// SquaredL2 calculates the squared Euclidean distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return s0 + s1 + s2 + s3
}

// NegEuclid returns the negated Euclidean distance so that closer is higher.
func NegEuclid(a, b []float32) float32 {
	return -float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// InverseNorm returns 1/||v||, or 0 for a zero vector.
func InverseNorm(v []float32) float32 {
	norm2 := DotProduct(v, v)
	if norm2 == 0 {
		return 0
	}
	return float32(1 / math.Sqrt(float64(norm2)))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := DotProduct(v, v)
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
