// Package blas provides the small dense-matrix kernel used by the DNN scorer.
package blas

// Dgemm performs C = alpha*op(A)*op(B) + beta*C in pure Go.
// All matrices are row-major. op(X) = X if trans=false, X^T if trans=true.
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	if !transA && transB {
		// rows of A against rows of B: the layout of every DNN layer
		for i := 0; i < m; i++ {
			ar := a[i*lda : i*lda+k]
			for j := 0; j < n; j++ {
				br := b[j*ldb : j*ldb+k]
				sum := 0.0
				for p, av := range ar {
					sum += av * br[p]
				}
				c[i*ldc+j] = alpha*sum + beta*c[i*ldc+j]
			}
		}
		return
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for p := 0; p < k; p++ {
				var aVal, bVal float64
				if transA {
					aVal = a[p*lda+i]
				} else {
					aVal = a[i*lda+p]
				}
				if transB {
					bVal = b[j*ldb+p]
				} else {
					bVal = b[p*ldb+j]
				}
				sum += aVal * bVal
			}
			c[i*ldc+j] = alpha*sum + beta*c[i*ldc+j]
		}
	}
}
