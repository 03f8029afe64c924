package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRMSNormZeroVector(t *testing.T) {
	x := make([]float32, 8)
	gamma := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	RMSNormRow(x, gamma)
	for _, v := range x {
		require.Zero(t, v)
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := []float32{1, 2, 3, 4, -1, 0.5}
	SoftmaxInplace(x, 1)
	var sum float64
	for _, v := range x {
		sum += float64(v)
	}
	require.InDelta(t, 1.0, sum, 1e-5)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestRoPEPreservesNorm(t *testing.T) {
	headDim := 8
	q := []float32{0.1, -0.2, 0.3, 0.4, -0.5, 0.6, 0.7, -0.8}
	k := append([]float32(nil), q...)
	before := norm(q)
	RoPEApplyHead(q, k, headDim, 5, 10000, 1)
	after := norm(q)
	require.InDelta(t, before, after, 1e-4)
}

func TestTopKFilterKeepsOnlyKLargest(t *testing.T) {
	x := []float32{5, 1, 9, 3, 7}
	TopKFilter(x, 2)
	finite := 0
	for _, v := range x {
		if !math.IsInf(float64(v), -1) {
			finite++
		}
	}
	require.Equal(t, 2, finite)
	require.False(t, math.IsInf(float64(x[2]), -1)) // 9 survives
}

func TestTopPFilterRenormalizes(t *testing.T) {
	probs := []float32{0.5, 0.3, 0.1, 0.1}
	TopPFilter(probs, 0.8)
	var sum float32
	for _, v := range probs {
		sum += v
	}
	require.InDelta(t, 1.0, float64(sum), 1e-5)
}

func TestApplyRepetitionPenalty(t *testing.T) {
	logits := []float32{10, 10, 10}
	ApplyRepetitionPenalty(logits, []int{1}, 2.0)
	require.Equal(t, float32(10), logits[0])
	require.Equal(t, float32(5), logits[1])
}

func TestAffineWithBias(t *testing.T) {
	x := []float32{1, 2}
	w := []float32{1, 0, 0, 1} // identity 2x2
	b := []float32{10, 20}
	y := make([]float32, 2)
	Affine(x, w, b, y, 1, 2, 2)
	require.Equal(t, []float32{11, 22}, y)
}
