// Package unscented implements the unscented transform: producing a set of
// weighted sigma points from a mean and covariance, and recovering mean and
// covariance statistics from a set of weighted sigma points.
package unscented

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/WrightGroupSRI/catheter-ukf/internal/linalg"
)

// Transform holds the spread parameter used to generate sigma points.
type Transform struct {
	// H is the sigma-point spread parameter (h > 0). It is used as a
	// dimension-like offset, not the conventional alpha/beta/kappa
	// parameterization: weights divide by (h + M), where M is the
	// dimension of the mean vector.
	H float64
}

// New creates a Transform with spread parameter h. It returns an error if
// h is not positive.
func New(h float64) (*Transform, error) {
	if h <= 0 {
		return nil, fmt.Errorf("unscented: invalid spread parameter h: %v", h)
	}
	return &Transform{H: h}, nil
}

// SigmasFromStats computes 2M+1 weighted sigma points representing the
// given mean x and covariance P, where M is the length of x. Column 0 is x
// itself; for i = 1..M, column 2i-1 is x plus column i of a principal
// square root of (M+h)*P and column 2i is x minus that column.
//
// P may be singular. The matrix square root tolerates this; any negative
// eigenvalue introduced by round-off is clamped to zero rather than
// propagated as a complex residue.
func (t *Transform) SigmasFromStats(x mat.Vector, P mat.Symmetric) (*mat.Dense, []float64, error) {
	m := x.Len()
	if P.Symmetric() != m {
		return nil, nil, fmt.Errorf("unscented: mean has length %d but covariance %v is %dx%d", m, linalg.Format(P), P.Symmetric(), P.Symmetric())
	}

	scaled := mat.NewSymDense(m, nil)
	scaled.ScaleSym(float64(m)+t.H, P)

	sqrtP, err := linalg.SqrtSym(scaled)
	if err != nil {
		return nil, nil, fmt.Errorf("unscented: failed to compute sigma point spread: %v", err)
	}

	cols := 2*m + 1
	sigmas := mat.NewDense(m, cols, nil)
	for c := 0; c < cols; c++ {
		sigmas.SetCol(c, asSlice(x))
	}

	for i := 0; i < m; i++ {
		col := mat.Col(nil, i, sqrtP)
		plus := sigmas.ColView(1 + 2*i).(*mat.VecDense)
		minus := sigmas.ColView(2 + 2*i).(*mat.VecDense)
		for r := 0; r < m; r++ {
			plus.SetVec(r, plus.AtVec(r)+col[r])
			minus.SetVec(r, minus.AtVec(r)-col[r])
		}
	}

	weights := make([]float64, cols)
	weights[0] = t.H / (t.H + float64(m))
	w := 1.0 / (2.0 * (t.H + float64(m)))
	for i := 1; i < cols; i++ {
		weights[i] = w
	}

	return sigmas, weights, nil
}

// StatsFromSigmas computes the weighted mean and covariance of a set of
// sigma points. The covariance uses the biased (population) estimator:
// weights are assumed to already form a probability distribution (they
// sum to 1), so no Bessel-style correction is applied.
func (t *Transform) StatsFromSigmas(sigmas *mat.Dense, weights []float64) (*mat.VecDense, *mat.SymDense) {
	rows, cols := sigmas.Dims()

	mean := mat.NewVecDense(rows, nil)
	for c := 0; c < cols; c++ {
		mean.AddScaledVec(mean, weights[c], sigmas.ColView(c))
	}

	cov := mat.NewDense(rows, rows, nil)
	diff := mat.NewVecDense(rows, nil)
	outer := mat.NewDense(rows, rows, nil)
	for c := 0; c < cols; c++ {
		diff.SubVec(sigmas.ColView(c), mean)
		outer.Mul(diff, diff.T())
		outer.Scale(weights[c], outer)
		cov.Add(cov, outer)
	}

	return mean, linalg.Symmetrize(cov)
}

func asSlice(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
