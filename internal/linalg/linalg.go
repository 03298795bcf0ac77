// Package linalg holds the small set of dense-matrix primitives shared by
// this module's packages: a principal matrix square root tolerant of
// singular input (used by the unscented transform), a forced symmetrize
// (used by statespace, unscented and kalman/rukf), and a matrix formatter
// for error messages.
package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SqrtSym returns a matrix S such that S*S^T approximates m, using the
// principal (eigen/SVD) square root. Negative eigenvalues, which can appear
// as round-off residue on a singular or near-singular m, are clamped to
// zero rather than propagated as complex values.
//
// It returns an error only if the underlying SVD factorization fails to
// converge.
func SqrtSym(m mat.Symmetric) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, fmt.Errorf("linalg: SVD factorization failed for matrix %v", Format(m))
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	vals := svd.Values(nil)
	for i := range vals {
		// m is symmetric, so left and right singular vectors of opposite
		// sign mark a negative eigenvalue.
		if mat.Dot(u.ColView(i), v.ColView(i)) < 0 {
			vals[i] = 0
		}
		vals[i] = math.Sqrt(vals[i])
	}
	diag := mat.NewDiagDense(len(vals), vals)

	var ud mat.Dense
	ud.Mul(&u, diag)
	var sqrt mat.Dense
	sqrt.Mul(&ud, u.T())

	return &sqrt, nil
}

// Symmetrize returns 0.5*(m + m^T) as a *mat.SymDense. Unlike a strict
// equality check, it never errors: small asymmetries introduced by
// round-off are expected and are silently repaired, matching this system's
// policy of clamping numerical degeneracies instead of reporting them.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(fmt.Sprintf("linalg: Symmetrize requires a square matrix, got %d x %d", r, c))
	}

	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return sym
}

// Format returns a matrix formatter suitable for embedding in error
// messages and test failure output.
func Format(m mat.Matrix) fmt.Formatter {
	return mat.Formatted(m, mat.Prefix(""), mat.Squeeze())
}
