package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Single", []float32{2}, []float32{3}, 6},
		{"Unrolled", []float32{1, 1, 1, 1, 1, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7}, 28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DotProduct(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1}, []float32{-1, 1}, 8},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestScoreHigherIsBetter(t *testing.T) {
	q := []float32{1, 0}
	near := []float32{0.9, 0.1}
	far := []float32{-1, 0}

	for _, m := range []Metric{Cosine, Dot, Euclid} {
		t.Run(m.String(), func(t *testing.T) {
			pq := Preprocess(m, q)
			assert.Greater(t, Score(m, pq, Preprocess(m, near)), Score(m, pq, Preprocess(m, far)))
		})
	}
}

func TestNegEuclid(t *testing.T) {
	assert.InDelta(t, -5, NegEuclid([]float32{0, 0}, []float32{3, 4}), 1e-6)
}

func TestPreprocess(t *testing.T) {
	v := []float32{3, 4}

	out := Preprocess(Cosine, v)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
	assert.Equal(t, []float32{3, 4}, v, "input must not be modified")

	assert.Equal(t, v, Preprocess(Dot, v))

	zero := Preprocess(Cosine, []float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 1, DotProduct(v, v), 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}

func TestMetricText(t *testing.T) {
	for _, m := range []Metric{Cosine, Dot, Euclid} {
		b, err := m.MarshalText()
		require.NoError(t, err)

		var got Metric
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, m, got)
	}

	var m Metric
	assert.Error(t, m.UnmarshalText([]byte("hamming")))

	_, err := Metric(42).MarshalText()
	assert.Error(t, err)
}

func TestProvider(t *testing.T) {
	fn, err := Provider(Euclid)
	require.NoError(t, err)
	assert.InDelta(t, -5, fn([]float32{0, 0}, []float32{3, 4}), 1e-6)

	_, err = Provider(Metric(9))
	assert.Error(t, err)
}

func TestInverseNorm(t *testing.T) {
	assert.InDelta(t, 0.2, InverseNorm([]float32{3, 4}), 1e-6)
	assert.Equal(t, float32(0), InverseNorm([]float32{0, 0}))
}
