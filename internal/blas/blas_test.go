package blas

import (
	"math"
	"math/rand"
	"testing"
)

// naive computes alpha*op(A)*op(B) + beta*C element by element.
func naive(transA, transB bool, m, n, k int, alpha float64, a []float64, lda int, b []float64, ldb int, beta float64, c []float64, ldc int) []float64 {
	out := append([]float64(nil), c...)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for p := 0; p < k; p++ {
				var av, bv float64
				if transA {
					av = a[p*lda+i]
				} else {
					av = a[i*lda+p]
				}
				if transB {
					bv = b[j*ldb+p]
				} else {
					bv = b[p*ldb+j]
				}
				sum += av * bv
			}
			out[i*ldc+j] = alpha*sum + beta*c[i*ldc+j]
		}
	}
	return out
}

func random(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.Float64()*2 - 1
	}
	return v
}

func TestDgemmMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tests := []struct {
		name           string
		transA, transB bool
		m, n, k        int
		alpha, beta    float64
	}{
		{"plain", false, false, 3, 4, 5, 1, 0},
		{"transB layer", false, true, 1, 32, 44, 1, 0},
		{"transB batch", false, true, 6, 12, 9, 1, 0},
		{"transA", true, false, 2, 3, 4, 1, 0},
		{"both", true, true, 4, 2, 3, 1, 0},
		{"alpha beta", false, false, 2, 2, 2, 2, 3},
		{"transB alpha beta", false, true, 3, 3, 3, 0.5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lda := tt.k
			if tt.transA {
				lda = tt.m
			}
			ldb := tt.n
			if tt.transB {
				ldb = tt.k
			}
			a := random(rng, tt.m*tt.k)
			b := random(rng, tt.k*tt.n)
			c := random(rng, tt.m*tt.n)
			want := naive(tt.transA, tt.transB, tt.m, tt.n, tt.k, tt.alpha, a, lda, b, ldb, tt.beta, c, tt.n)

			Dgemm(tt.transA, tt.transB, tt.m, tt.n, tt.k, tt.alpha, a, lda, b, ldb, tt.beta, c, tt.n)
			for i := range want {
				if math.Abs(c[i]-want[i]) > 1e-12 {
					t.Fatalf("c[%d] = %g, want %g", i, c[i], want[i])
				}
			}
		})
	}
}

func TestDgemmKnownValues(t *testing.T) {
	// rows of A against rows of B, as in a DNN layer: B holds the transposed
	// [[7,8],[9,10],[11,12]]
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 9, 11, 8, 10, 12}
	c := make([]float64, 4)
	Dgemm(false, true, 2, 2, 3, 1, a, 3, b, 3, 0, c, 2)

	want := []float64{58, 64, 139, 154}
	for i := range want {
		if c[i] != want[i] {
			t.Errorf("c[%d] = %g, want %g", i, c[i], want[i])
		}
	}
}
